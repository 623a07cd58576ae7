package domain

import "context"

type idempotencyTokenKey struct{}

// WithIdempotencyToken прикрепляет идемпотентный токен к контексту исходящего
// вызова. Клиенты передают его внешнему сервису заголовком Idempotency-Key.
func WithIdempotencyToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, idempotencyTokenKey{}, token)
}

// IdempotencyTokenFromContext извлекает токен, прикреплённый WithIdempotencyToken.
func IdempotencyTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(idempotencyTokenKey{}).(string)
	return token, ok && token != ""
}
