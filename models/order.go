package models

// Order is owned by the checkout collaborator; the webhook payload
// carries it and the sale transition references it by id only.
type Order struct {
	Id               string      `json:"id"`
	SessionId        string      `json:"session_id"`
	Items            []OrderItem `json:"items"`
	Status           string      `json:"status"`
	PaymentReference *string     `json:"payment_reference"`
}

type OrderItem struct {
	ProductId string `json:"product_id"`
	ColorName string `json:"color_name"`
	Quantity  int    `json:"quantity"`
}

// CartItem is the client-side cart mirror line checked against
// server-side holds.
type CartItem struct {
	ProductId string `json:"product_id" binding:"required"`
	ColorName string `json:"color_name" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}
