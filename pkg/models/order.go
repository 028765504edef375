package models

import (
	"fmt"
	"strings"
	"time"
)

// Amount is a price in minor currency units (paise for INR).
type Amount int64

// Major renders the amount in major units, e.g. 29900 -> "299.00".
func (a Amount) Major() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// OrderStatuses lists every status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, status := range orderStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", s)
}

// IsTerminal reports whether no further cancellation is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type Address struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	Country     string  `json:"country"`
	PostalCode  string  `json:"postalCode"`
	State       string  `json:"state"`
	PhoneNumber *string `json:"phoneNumber"`
}

type Order struct {
	ID                string         `json:"id"`
	UserID            string         `json:"userId"`
	ConfigurationID   string         `json:"configurationId"`
	Amount            Amount         `json:"amount"`
	Status            OrderStatus    `json:"status"`
	IsPaid            bool           `json:"isPaid"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	ShippingAddressID *string        `json:"shippingAddressId"`
	BillingAddressID  *string        `json:"billingAddressId"`
	CancelReason      *string        `json:"cancelReason,omitempty"`
	Configuration     *Configuration `json:"configuration,omitempty"`
	ShippingAddress   *Address       `json:"shippingAddress,omitempty"`
	BillingAddress    *Address       `json:"billingAddress,omitempty"`
	User              *User          `json:"user,omitempty"`
}

// OrderWithPricing pairs a materialized order with the configuration and
// price it was computed from.
type OrderWithPricing struct {
	Order         Order         `json:"order"`
	Configuration Configuration `json:"configuration"`
	Price         Amount        `json:"price"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Order   *Order `json:"order,omitempty"`
}
