package gateway

import "github.com/shopsync/shopsync/entity"

// Every mutating payload for an existing record carries
// originalLastUpdated: the version the caller believes is current. The
// remote store rejects the write with ERR_VERSION_CONFLICT when the stored
// version differs, unless Force is set.

// Forceable is implemented by payloads that can be resubmitted with the
// version check bypassed, for operator-driven conflict resolution.
type Forceable interface {
	// Forced returns a copy of the payload with the force flag set.
	Forced() any
}

// OrderPayload is the full order body for createOrder and updateOrderContent.
type OrderPayload struct {
	ID                  string               `json:"id"`
	CustomerID          string               `json:"customerId,omitempty"`
	CustomerName        string               `json:"customerName"`
	DeliveryDate        string               `json:"deliveryDate"`
	Status              entity.OrderStatus   `json:"status"`
	PaymentStatus       entity.PaymentStatus `json:"paymentStatus"`
	Note                string               `json:"note,omitempty"`
	Items               []entity.OrderItem   `json:"items"`
	OriginalLastUpdated entity.Version       `json:"originalLastUpdated,omitempty"`
	Force               bool                 `json:"force,omitempty"`
}

func (p OrderPayload) Forced() any {
	p.Force = true
	return p
}

// OrderPayloadFrom builds the wire payload for an order record.
func OrderPayloadFrom(o entity.Order) OrderPayload {
	return OrderPayload{
		ID:                  o.ID,
		CustomerID:          o.CustomerID,
		CustomerName:        o.CustomerName,
		DeliveryDate:        o.DeliveryDate,
		Status:              o.Status,
		PaymentStatus:       o.PaymentStatus,
		Note:                o.Note,
		Items:               o.Items,
		OriginalLastUpdated: o.LastUpdated,
	}
}

// StatusPayload carries a single order status change.
type StatusPayload struct {
	ID                  string             `json:"id"`
	Status              entity.OrderStatus `json:"status"`
	OriginalLastUpdated entity.Version     `json:"originalLastUpdated,omitempty"`
	Force               bool               `json:"force,omitempty"`
}

func (p StatusPayload) Forced() any {
	p.Force = true
	return p
}

// DeletePayload identifies a record to delete.
type DeletePayload struct {
	ID                  string         `json:"id"`
	OriginalLastUpdated entity.Version `json:"originalLastUpdated,omitempty"`
	Force               bool           `json:"force,omitempty"`
}

func (p DeletePayload) Forced() any {
	p.Force = true
	return p
}

// CustomerPayload is the body for updateCustomer (create and update share it).
type CustomerPayload struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Phone               string         `json:"phone,omitempty"`
	Address             string         `json:"address,omitempty"`
	Note                string         `json:"note,omitempty"`
	OriginalLastUpdated entity.Version `json:"originalLastUpdated,omitempty"`
	Force               bool           `json:"force,omitempty"`
}

func (p CustomerPayload) Forced() any {
	p.Force = true
	return p
}

// CustomerPayloadFrom builds the wire payload for a customer record.
func CustomerPayloadFrom(c entity.Customer) CustomerPayload {
	return CustomerPayload{
		ID:                  c.ID,
		Name:                c.Name,
		Phone:               c.Phone,
		Address:             c.Address,
		Note:                c.Note,
		OriginalLastUpdated: c.LastUpdated,
	}
}

// ProductPayload is the body for updateProduct.
type ProductPayload struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Unit                string         `json:"unit,omitempty"`
	Price               float64        `json:"price"`
	SortOrder           int            `json:"sortOrder,omitempty"`
	Note                string         `json:"note,omitempty"`
	OriginalLastUpdated entity.Version `json:"originalLastUpdated,omitempty"`
	Force               bool           `json:"force,omitempty"`
}

func (p ProductPayload) Forced() any {
	p.Force = true
	return p
}

// ProductPayloadFrom builds the wire payload for a product record.
func ProductPayloadFrom(p entity.Product) ProductPayload {
	return ProductPayload{
		ID:                  p.ID,
		Name:                p.Name,
		Unit:                p.Unit,
		Price:               p.Price,
		SortOrder:           p.SortOrder,
		Note:                p.Note,
		OriginalLastUpdated: p.LastUpdated,
	}
}

// ReorderPayload carries the full product id ordering.
type ReorderPayload struct {
	IDs []string `json:"ids"`
}

// BatchPaymentPayload settles payment status for many orders at once. The
// batch path does not carry originalLastUpdated; it is best-effort and
// interpreted per-row from WriteResult.Results.
type BatchPaymentPayload struct {
	IDs           []string             `json:"ids"`
	PaymentStatus entity.PaymentStatus `json:"paymentStatus"`
}

// LoginPayload authenticates an operator session.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordPayload rotates the operator password.
type ChangePasswordPayload struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}
