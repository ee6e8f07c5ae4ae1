package domain

import "strings"

// Kind описывает категорию хранимых сущностей
type Kind struct {
	Name       string
	Collection string
	Schema     Schema
	// SearchFields are matched by the keyword search, OR-ed together.
	SearchFields []string
	// RewriteMedia turns stored imageCover/images filenames into absolute URLs.
	RewriteMedia bool
}

// FieldFor returns the schema field for a (possibly dotted) query path.
func (k Kind) FieldFor(path string) (Field, bool) {
	if path == FieldID {
		return Field{Type: FieldObjectID}, true
	}
	if path == FieldCreatedAt || path == FieldUpdatedAt {
		return Field{Type: FieldTime}, true
	}
	parts := strings.Split(path, ".")
	schema := k.Schema
	for i, part := range parts {
		f, ok := schema[part]
		if !ok {
			return Field{}, false
		}
		if i == len(parts)-1 {
			return f, true
		}
		if f.Type != FieldObjectList {
			return Field{}, false
		}
		schema = f.Items
	}
	return Field{}, false
}

var defaultSearchFields = []string{"name"}

var lineItemSchema = Schema{
	"product": {Type: FieldObjectID, Required: true},
	"count":   {Type: FieldInt, Required: true, Default: int64(1)},
	"price":   {Type: FieldNumber},
}

var (
	ProductKind = Kind{
		Name:       "product",
		Collection: "products",
		Schema: Schema{
			"name":               {Type: FieldString, Required: true},
			"description":        {Type: FieldString},
			"price":              {Type: FieldNumber, Required: true, Rules: "gte=0"},
			"priceAfterDiscount": {Type: FieldNumber, Rules: "gte=0"},
			"quantity":           {Type: FieldInt, Default: int64(0)},
			"sold":               {Type: FieldInt, Default: int64(0)},
			"category":           {Type: FieldString},
			FieldImageCover:      {Type: FieldString},
			FieldImages:          {Type: FieldStringList},
		},
		SearchFields: []string{"name", "description"},
		RewriteMedia: true,
	}

	// Partners and events have no name field; keyword search uses title.
	PartnerKind = Kind{
		Name:       "partner",
		Collection: "partners",
		Schema: Schema{
			"image": {Type: FieldString},
			"title": {Type: FieldString},
		},
		SearchFields: []string{"title"},
	}

	EventKind = Kind{
		Name:       "event",
		Collection: "events",
		Schema: Schema{
			"img":    {Type: FieldString},
			"title":  {Type: FieldString},
			"title1": {Type: FieldString},
		},
		SearchFields: []string{"title"},
	}

	ContactKind = Kind{
		Name:       "contact",
		Collection: "contacts",
		Schema: Schema{
			"name":        {Type: FieldString},
			"phoneNumber": {Type: FieldString},
			"email":       {Type: FieldString, Rules: "email"},
			"companyName": {Type: FieldString},
			"message":     {Type: FieldString},
		},
		SearchFields: defaultSearchFields,
	}

	CartKind = Kind{
		Name:       "cart",
		Collection: "carts",
		Schema: Schema{
			"user":               {Type: FieldString, Required: true},
			"products":           {Type: FieldObjectList, Items: lineItemSchema},
			"totalCartPrice":     {Type: FieldNumber, Default: float64(0)},
			"totalAfterDiscount": {Type: FieldNumber},
		},
		SearchFields: defaultSearchFields,
	}

	OrderKind = Kind{
		Name:       "order",
		Collection: "orders",
		Schema: Schema{
			"user":              {Type: FieldString},
			"cartItems":         {Type: FieldObjectList, Items: lineItemSchema},
			"shippingAddress":   {Type: FieldObject},
			"taxPrice":          {Type: FieldNumber},
			"shippingPrice":     {Type: FieldNumber},
			"totalOrderPrice":   {Type: FieldNumber},
			"paymentMethodType": {Type: FieldString},
			"paymentStatus":     {Type: FieldString},
			"isPaid":            {Type: FieldBool},
			"paidAt":            {Type: FieldTime},
			"isDelivered":       {Type: FieldBool},
			"deliveredAt":       {Type: FieldTime},
		},
		SearchFields: defaultSearchFields,
	}
)

// Kinds lists every kind served by the CRUD engine.
func Kinds() []Kind {
	return []Kind{ProductKind, PartnerKind, EventKind, ContactKind, CartKind, OrderKind}
}
