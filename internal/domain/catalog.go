package domain

// Product описывает товар в снимке каталога на момент оформления заказа.
// Цены снимаются в момент checkout; живой каталог может меняться независимо.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	Stock      int32
}

// Reservation описывает подтверждённый резерв товара под заказ.
type Reservation struct {
	OrderID   string
	ProductID string
	Qty       int32
	// PriceMinor — цена, подтверждённая складом при резервировании.
	PriceMinor int64
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}

	return errs
}
