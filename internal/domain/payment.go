package domain

// PaymentStatus описывает исход обращения к платёжному провайдеру.
type PaymentStatus string

const (
	// PaymentStatusCharged — деньги списаны в пользу мерчанта.
	PaymentStatusCharged PaymentStatus = "charged"
	// PaymentStatusDeclined — провайдер отклонил списание (бизнес-отказ).
	PaymentStatusDeclined PaymentStatus = "declined"
	// PaymentStatusRefunded — деньги возвращены клиенту полностью или частично.
	PaymentStatusRefunded PaymentStatus = "refunded"
)
