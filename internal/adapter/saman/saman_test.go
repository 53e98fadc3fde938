package saman

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/paygate/internal/adapter"
	"github.com/yourorg/paygate/internal/adapter/soap"
	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/logging"
	"github.com/yourorg/paygate/internal/order"
)

func testOrder(t *testing.T, price uint64) *order.Order {
	t.Helper()
	ord := &order.Order{
		ServiceID:        "svc-1",
		ServiceReference: "r1",
		TransactionID:    "tx-1",
		GatewayKind:      gateway.KindSaman,
		Price:            price,
		Status:           order.StatusPending,
	}
	require.NoError(t, ord.SetParams(order.Properties{RedirectURL: "https://shop.example/done"}))
	return ord
}

func testInstance(verifyURL string) *gateway.Instance {
	return &gateway.Instance{
		ID:        "g-saman",
		ServiceID: "svc-1",
		Kind:      gateway.KindSaman,
		Enabled:   true,
		Properties: []byte(fmt.Sprintf(
			`{"merchant_id":"MID-77","gateway_url":"https://sep.example/pay","verify_url":%q}`, verifyURL)),
	}
}

func confirmationServer(t *testing.T, result string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			*calls++
		}
		fmt.Fprintf(w, `<Envelope><Body><result>%s</result></Body></Envelope>`, result)
	}))
}

func newAdapter(srv *httptest.Server) *Adapter {
	client := srv.Client()
	return New(soap.NewClient(client, logging.NewNop()), "https://hub.example/pay", logging.NewNop())
}

func TestInitiateBuildsAutoSubmitForm(t *testing.T) {
	ord := testOrder(t, 1000)
	inst := testInstance("https://sep.example/verify")

	a := New(soap.NewClient(http.DefaultClient, logging.NewNop()), "https://hub.example/pay", logging.NewNop())
	payload, err := a.Initiate(context.Background(), ord, inst)
	require.NoError(t, err)

	assert.Equal(t, "https://sep.example/pay", payload.FormAction)
	assert.Equal(t, "10000", payload.FormFields["Amount"])
	assert.Equal(t, "MID-77", payload.FormFields["MID"])
	assert.Equal(t, "tx-1", payload.FormFields["ResNum"])
	assert.Equal(t, "https://hub.example/pay", payload.FormFields["RedirectURL"])
	assert.NotContains(t, payload.FormFields, "CellNumber")
}

func TestInitiateRequiresRedirectURL(t *testing.T) {
	ord := testOrder(t, 1000)
	require.NoError(t, ord.SetParams(order.Properties{}))

	a := New(soap.NewClient(http.DefaultClient, logging.NewNop()), "https://hub.example/pay", logging.NewNop())
	_, err := a.Initiate(context.Background(), ord, testInstance("https://sep.example/verify"))
	assert.ErrorIs(t, err, order.ErrValidation)
}

func TestVerifySuccessWhenConfirmationMatchesAmount(t *testing.T) {
	srv := confirmationServer(t, "10000", nil)
	defer srv.Close()

	ord := testOrder(t, 1000)
	res, err := newAdapter(srv).Verify(context.Background(), ord, testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{"State": "OK", "RefNum": "RN-9", "TRACENO": "TR-5"},
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "RN-9", res.ProviderReference)

	params, err := ord.Params()
	require.NoError(t, err)
	assert.Equal(t, "OK", params.ResultCode)
	assert.Equal(t, "TR-5", params.UserReference)
}

func TestVerifyFailsOnAmountMismatch(t *testing.T) {
	srv := confirmationServer(t, "10001", nil)
	defer srv.Close()

	ord := testOrder(t, 1000)
	res, err := newAdapter(srv).Verify(context.Background(), ord, testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{"State": "OK", "RefNum": "RN-9"},
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "amount", res.FailureStage)
}

func TestVerifyFailedStateSkipsConfirmation(t *testing.T) {
	calls := 0
	srv := confirmationServer(t, "10000", &calls)
	defer srv.Close()

	ord := testOrder(t, 1000)
	res, err := newAdapter(srv).Verify(context.Background(), ord, testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{"State": "CanceledByUser", "RefNum": "RN-9"},
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "state", res.FailureStage)
	assert.Zero(t, calls, "a failed callback must not contact the bank")

	params, err := ord.Params()
	require.NoError(t, err)
	assert.Equal(t, "CanceledByUser", params.ResultCode)
	assert.Empty(t, params.UserReference)
}

func TestVerifyConfirmationTransportFailureIsUnverified(t *testing.T) {
	srv := confirmationServer(t, "10000", nil)
	srv.Close() // refuses connections

	ord := testOrder(t, 1000)
	res, err := newAdapter(srv).Verify(context.Background(), ord, testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{"State": "OK", "RefNum": "RN-9"},
	})
	require.NoError(t, err, "provider failure resolves the payment, it does not abort verification")
	assert.False(t, res.Verified)
	assert.Equal(t, "confirm", res.FailureStage)
}
