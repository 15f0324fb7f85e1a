package order

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusPaid},
		{StatusPending, StatusFailed},
		{StatusPending, StatusCancelled},
		{StatusPaid, StatusDelivering},
		{StatusPaid, StatusFailed},
		{StatusPaid, StatusCancelled},
		{StatusDelivering, StatusDelivered},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusDelivering, StatusFailed},
		{StatusDelivering, StatusCancelled},
		{StatusDelivered, StatusCancelled},
		{StatusFailed, StatusPaid},
		{StatusCancelled, StatusPending},
		{StatusPending, StatusDelivering},
	}
	for _, tr := range forbidden {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be forbidden", tr.from, tr.to)
		}
	}
}
