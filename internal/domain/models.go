package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LineItem позиция корзины или снимок позиции в заказе
type LineItem struct {
	Product primitive.ObjectID `bson:"product" json:"product"`
	Count   int64              `bson:"count" json:"count"`
	Price   float64            `bson:"price,omitempty" json:"price,omitempty"`
}

// Cart корзина пользователя; создаётся отдельной подсистемой
type Cart struct {
	ID                 primitive.ObjectID `bson:"_id" json:"_id"`
	User               string             `bson:"user" json:"user"`
	Products           []LineItem         `bson:"products" json:"products"`
	TotalCartPrice     float64            `bson:"totalCartPrice" json:"totalCartPrice"`
	TotalAfterDiscount *float64           `bson:"totalAfterDiscount,omitempty" json:"totalAfterDiscount,omitempty"`
}

// ShippingAddress адрес доставки, он же billing data у платёжного провайдера
type ShippingAddress struct {
	Details    string `bson:"details,omitempty" json:"details,omitempty"`
	Phone      string `bson:"phone,omitempty" json:"phone,omitempty"`
	City       string `bson:"city,omitempty" json:"city,omitempty"`
	PostalCode string `bson:"postalCode,omitempty" json:"postalCode,omitempty"`
	FirstName  string `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName   string `bson:"lastName,omitempty" json:"lastName,omitempty"`
	Email      string `bson:"email,omitempty" json:"email,omitempty"`
	Country    string `bson:"country,omitempty" json:"country,omitempty"`
}

// PaymentMethod способ оплаты заказа
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

// PaymentStatus статус оплаты по уведомлениям провайдера
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Order заказ. CartItems это снимок корзины, после создания не меняется.
type Order struct {
	ID                primitive.ObjectID `bson:"_id" json:"_id"`
	User              string             `bson:"user" json:"user"`
	CartItems         []LineItem         `bson:"cartItems" json:"cartItems"`
	ShippingAddress   ShippingAddress    `bson:"shippingAddress" json:"shippingAddress"`
	TaxPrice          float64            `bson:"taxPrice" json:"taxPrice"`
	ShippingPrice     float64            `bson:"shippingPrice" json:"shippingPrice"`
	TotalOrderPrice   float64            `bson:"totalOrderPrice" json:"totalOrderPrice"`
	PaymentMethodType PaymentMethod      `bson:"paymentMethodType" json:"paymentMethodType"`
	PaymentStatus     PaymentStatus      `bson:"paymentStatus" json:"paymentStatus"`
	IsPaid            bool               `bson:"isPaid" json:"isPaid"`
	PaidAt            *time.Time         `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	IsDelivered       bool               `bson:"isDelivered" json:"isDelivered"`
	DeliveredAt       *time.Time         `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	CreatedAt         time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time          `bson:"updatedAt" json:"updatedAt"`
	Version           int64              `bson:"__v" json:"-"`
}

// Product товар; склад меняется только оформлением заказа
type Product struct {
	ID          primitive.ObjectID `bson:"_id" json:"_id"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Price       float64            `bson:"price" json:"price"`
	Quantity    int64              `bson:"quantity" json:"quantity"`
	Sold        int64              `bson:"sold" json:"sold"`
	ImageCover  string             `bson:"imageCover,omitempty" json:"imageCover,omitempty"`
	Images      []string           `bson:"images,omitempty" json:"images,omitempty"`
}
