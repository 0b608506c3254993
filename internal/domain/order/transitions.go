package order

// Action is a lifecycle operation requested on an order.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionProcess Action = "process"
	ActionShip    Action = "ship"
	ActionDeliver Action = "deliver"
	ActionCancel  Action = "cancel"
	ActionRefund  Action = "refund"
	ActionPayment Action = "payment"
)

type transition struct {
	from []Status
	to   Status
	// paid requires PaymentStatus == PAID.
	paid bool
}

// transitions is the only place order status legality is defined.
var transitions = map[Action]transition{
	ActionConfirm: {from: []Status{StatusPending}, to: StatusConfirmed},
	ActionProcess: {from: []Status{StatusConfirmed}, to: StatusProcessing},
	ActionShip:    {from: []Status{StatusConfirmed, StatusProcessing}, to: StatusShipped},
	ActionDeliver: {from: []Status{StatusShipped}, to: StatusDelivered},
	ActionCancel:  {from: []Status{StatusPending, StatusConfirmed, StatusProcessing}, to: StatusCancelled},
	ActionRefund:  {from: []Status{StatusDelivered}, to: StatusRefunded, paid: true},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentPaid, PaymentFailed},
	PaymentFailed:            {PaymentPaid},
	PaymentPaid:              {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded},
}

// Next returns the status the action leads to from o, or false if the action
// is not allowed.
func Next(o *Order, a Action) (Status, bool) {
	t, ok := transitions[a]
	if !ok {
		return "", false
	}
	if t.paid && o.PaymentStatus != PaymentPaid {
		return "", false
	}
	for _, s := range t.from {
		if s == o.Status {
			return t.to, true
		}
	}
	return "", false
}

// CanSetPayment reports whether the payment status may move from -> to.
func CanSetPayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Actions lists every status action in a stable order.
func Actions() []Action {
	return []Action{ActionConfirm, ActionProcess, ActionShip, ActionDeliver, ActionCancel, ActionRefund}
}
