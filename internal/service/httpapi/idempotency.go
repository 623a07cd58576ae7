package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const idempotencyKeyHeader = "Idempotency-Key"

// idempotencyTTL задаёт срок хранения записи: повтор запроса позже этого
// окна обрабатывается как новый.
const idempotencyTTL = 24 * time.Hour

// idempotencyMiddleware делает POST-запросы повторяемыми: ответ по уже
// обработанному ключу воспроизводится из хранилища, конкурентный повтор
// получает 409, переиспользование ключа с другим телом — 422.
// Запрос без заголовка Idempotency-Key проходит без изменений.
func (h *Handler) idempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyKeyHeader)
		if key == "" || h.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		hash := requestHash(r.Method, r.URL.Path, body)
		_, err = h.idempotency.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			h.writeError(w, http.StatusUnprocessableEntity, err)
			return
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			h.replayOrConflict(w, key)
			return
		default:
			h.logger.WithError(err).WithField("idempotency_key", key).Error("failed to register idempotency key")
			h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		markErr := error(nil)
		if recorder.status < http.StatusInternalServerError {
			markErr = h.idempotency.MarkDone(key, recorder.body.Bytes(), recorder.status)
		} else {
			markErr = h.idempotency.MarkFailed(key, recorder.body.Bytes(), recorder.status)
		}
		if markErr != nil {
			h.logger.WithError(markErr).WithField("idempotency_key", key).Warn("failed to store idempotent response")
		}
	})
}

// replayOrConflict воспроизводит сохранённый ответ или сообщает, что запрос
// ещё обрабатывается.
func (h *Handler) replayOrConflict(w http.ResponseWriter, key string) {
	record, err := h.idempotency.Get(key)
	if err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Error("failed to load idempotency record")
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	if record.Status == domain.IdempotencyStatusProcessing {
		h.writeError(w, http.StatusConflict, errors.New("request with this idempotency key is being processed"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replay", "true")
	w.WriteHeader(record.HTTPStatus)
	if _, err := w.Write(record.ResponseBody); err != nil {
		h.logger.WithError(err).Warn("failed to write replayed response")
	}
}

func requestHash(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte(" "))
	sum.Write([]byte(path))
	sum.Write([]byte(" "))
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// responseRecorder дублирует ответ в буфер, чтобы его можно было воспроизвести.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
	wrote  bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.wrote = true
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
