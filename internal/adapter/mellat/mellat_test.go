package mellat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/paygate/internal/adapter"
	"github.com/yourorg/paygate/internal/adapter/soap"
	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/logging"
	"github.com/yourorg/paygate/internal/order"
)

// bankFake answers each SOAP operation with a canned result and records
// the order of operations it saw.
type bankFake struct {
	results map[string]string
	ops     []string
}

func (b *bankFake) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := string(raw)
		for op, res := range b.results {
			if strings.Contains(body, "<ns:"+op+" ") {
				b.ops = append(b.ops, op)
				fmt.Fprintf(w, `<Envelope><Body><return>%s</return></Body></Envelope>`, res)
				return
			}
		}
		http.Error(w, "unknown operation", http.StatusBadRequest)
	}
}

func testOrder(t *testing.T, price uint64) *order.Order {
	t.Helper()
	ord := &order.Order{
		ServiceID:        "svc-1",
		ServiceReference: "r1",
		TransactionID:    "tx-1",
		GatewayKind:      gateway.KindMellat,
		Price:            price,
		Status:           order.StatusPending,
	}
	require.NoError(t, ord.SetParams(order.Properties{RedirectURL: "https://shop.example/done"}))
	return ord
}

func testInstance(bankURL string) *gateway.Instance {
	return &gateway.Instance{
		ID:        "g-mellat",
		ServiceID: "svc-1",
		Kind:      gateway.KindMellat,
		Enabled:   true,
		Properties: []byte(fmt.Sprintf(
			`{"merchant_id":"T-1","username":"u","password":"p","request_url":%q,"verify_url":%q,"gateway_url":"https://bpm.example/gateway"}`,
			bankURL, bankURL)),
	}
}

func newAdapter(srv *httptest.Server) *Adapter {
	return New(soap.NewClient(srv.Client(), logging.NewNop()), "https://hub.example/pay", logging.NewNop())
}

func TestInitiateStoresSessionToken(t *testing.T) {
	bank := &bankFake{results: map[string]string{"bpPayRequest": "0,AF82041a2Bf6"}}
	srv := httptest.NewServer(bank.handler())
	defer srv.Close()

	ord := testOrder(t, 1000)
	payload, err := newAdapter(srv).Initiate(context.Background(), ord, testInstance(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, "https://bpm.example/gateway?RefId=AF82041a2Bf6", payload.RedirectURL)
	params, err := ord.Params()
	require.NoError(t, err)
	assert.Equal(t, "AF82041a2Bf6", params.SessionToken)
}

func TestInitiateDeclinedIsProviderError(t *testing.T) {
	bank := &bankFake{results: map[string]string{"bpPayRequest": "21"}}
	srv := httptest.NewServer(bank.handler())
	defer srv.Close()

	_, err := newAdapter(srv).Initiate(context.Background(), testOrder(t, 1000), testInstance(srv.URL))
	require.Error(t, err)

	var perr *adapter.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, gateway.KindMellat, perr.Kind)
	assert.Equal(t, "bpPayRequest", perr.Op)
}

func TestVerifySettlesWhenBothStepsSucceed(t *testing.T) {
	bank := &bankFake{results: map[string]string{"bpVerifyRequest": "0", "bpSettleRequest": "0"}}
	srv := httptest.NewServer(bank.handler())
	defer srv.Close()

	ord := testOrder(t, 1000)
	res, err := newAdapter(srv).Verify(context.Background(), ord, testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{
			"ResCode":         "0",
			"FinalAmount":     "10000",
			"SaleOrderId":     "555",
			"SaleReferenceId": "SR-1",
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "SR-1", res.ProviderReference)
	assert.Equal(t, []string{"bpVerifyRequest", "bpSettleRequest"}, bank.ops)
}

func TestVerifyFailsWhenSettleDeclines(t *testing.T) {
	bank := &bankFake{results: map[string]string{"bpVerifyRequest": "0", "bpSettleRequest": "34"}}
	srv := httptest.NewServer(bank.handler())
	defer srv.Close()

	res, err := newAdapter(srv).Verify(context.Background(), testOrder(t, 1000), testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{
			"ResCode":         "0",
			"FinalAmount":     "10000",
			"SaleOrderId":     "555",
			"SaleReferenceId": "SR-1",
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "settle", res.FailureStage)
}

func TestVerifyAmountMismatchSkipsProvider(t *testing.T) {
	bank := &bankFake{results: map[string]string{"bpVerifyRequest": "0", "bpSettleRequest": "0"}}
	srv := httptest.NewServer(bank.handler())
	defer srv.Close()

	res, err := newAdapter(srv).Verify(context.Background(), testOrder(t, 1000), testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{
			"ResCode":         "0",
			"FinalAmount":     "9999",
			"SaleOrderId":     "555",
			"SaleReferenceId": "SR-1",
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "amount", res.FailureStage)
	assert.Empty(t, bank.ops, "a tampered amount must never reach the bank")
}

func TestVerifyCallbackDeclineFails(t *testing.T) {
	bank := &bankFake{results: map[string]string{}}
	srv := httptest.NewServer(bank.handler())
	defer srv.Close()

	ord := testOrder(t, 1000)
	res, err := newAdapter(srv).Verify(context.Background(), ord, testInstance(srv.URL), adapter.CallbackData{
		Fields: map[string]string{"ResCode": "17", "FinalAmount": "10000"},
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, "callback", res.FailureStage)

	params, err := ord.Params()
	require.NoError(t, err)
	assert.Equal(t, "17", params.ResultCode)
}
