package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopforge/fulfillment/internal/gateways"
)

func TestCreateOrderSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}

		var req CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ReferenceID != "ord_123" {
			t.Errorf("unexpected reference id %s", req.ReferenceID)
		}
		if req.Courier != "jne" {
			t.Errorf("unexpected courier %s", req.Courier)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(OrderResult{
			ShippingOrderID: "ship_789",
			WaybillID:       "WB-0001",
			Status:          "confirmed",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "test-key")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	result, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		ReferenceID: "ord_123",
		Courier:     "jne",
		Origin:      OrderAddress{Name: "Warehouse", PostalCode: "10110"},
		Destination: OrderAddress{Name: "Customer", PostalCode: "40115"},
		Items:       []OrderItem{{Name: "Widget", Quantity: 2, Value: 50_00}},
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if result.ShippingOrderID != "ship_789" {
		t.Errorf("unexpected shipping order id %s", result.ShippingOrderID)
	}
	if result.WaybillID != "WB-0001" {
		t.Errorf("unexpected waybill %s", result.WaybillID)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	client, err := NewClient("https://couriers.test", "key")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.CreateOrder(context.Background(), CreateOrderRequest{Courier: "jne"})
	if err == nil {
		t.Fatal("expected error for missing reference id")
	}
	if gateways.Retryable(err) {
		t.Error("validation errors must not be retryable")
	}
}

func TestCreateOrderServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"internal","message":"upstream unavailable"}`, http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "key")

	_, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		ReferenceID: "ord_1",
		Courier:     "jne",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !gateways.Retryable(err) {
		t.Error("5xx responses should be retryable")
	}
}

func TestCreateOrderClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"invalid_destination","message":"area not serviced"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "key")

	_, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		ReferenceID: "ord_1",
		Courier:     "jne",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if gateways.Retryable(err) {
		t.Error("4xx responses must not be retryable")
	}
}

func TestCancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders/ship_789/cancel" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "key")
	if err := client.CancelOrder(context.Background(), "ship_789", "order refunded"); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
}

func TestCouriers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/couriers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"couriers":[{"courier_code":"jne","courier_name":"JNE","service_type":"reg"}]}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "key")
	couriers, err := client.Couriers(context.Background())
	if err != nil {
		t.Fatalf("Couriers returned error: %v", err)
	}
	if len(couriers) != 1 || couriers[0].Code != "jne" {
		t.Errorf("unexpected couriers %+v", couriers)
	}
}

func TestAreasQueryEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "south jakarta" {
			t.Errorf("unexpected query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"areas":[{"id":"a1","name":"South Jakarta","postal_code":"12110"}]}`))
	}))
	defer server.Close()

	client, _ := NewClient(server.URL, "key")
	areas, err := client.Areas(context.Background(), "south jakarta")
	if err != nil {
		t.Fatalf("Areas returned error: %v", err)
	}
	if len(areas) != 1 || areas[0].ID != "a1" {
		t.Errorf("unexpected areas %+v", areas)
	}
}
