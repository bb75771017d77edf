package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderEventValidate(t *testing.T) {
	e := OrderEvent{Type: EventOrderConfirmed, OrderNo: "ORD-20260301-120000-000001", OrderID: 1}
	require.NoError(t, e.Validate())

	require.Error(t, OrderEvent{OrderNo: "ORD-x"}.Validate())
	require.Error(t, OrderEvent{Type: EventOrderConfirmed}.Validate())
}
