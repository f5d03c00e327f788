package enums

type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusPaid     PayoutStatus = "paid"
	PayoutStatusRejected PayoutStatus = "rejected"
)

func (s PayoutStatus) Terminal() bool {
	return s == PayoutStatusPaid || s == PayoutStatusRejected
}
