package order

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPaid       Status = "PAID"
	StatusDelivering Status = "DELIVERING"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// PENDING and PAID are the only states failure or cancellation can reach;
// DELIVERED, FAILED and CANCELLED are terminal.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:       {StatusDelivering: true, StatusFailed: true, StatusCancelled: true},
	StatusDelivering: {StatusDelivered: true},
	StatusDelivered:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
