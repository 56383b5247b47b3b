package woocommerce

// Product is a catalog product as returned by the REST API.
type Product struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	SKU           string      `json:"sku"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	StockStatus   string      `json:"stock_status"`
	StockQuantity *int        `json:"stock_quantity"`
	Variations    []int64     `json:"variations"`
	Attributes    []Attribute `json:"attributes"`
}

type Attribute struct {
	Name      string   `json:"name"`
	Visible   bool     `json:"visible"`
	Variation bool     `json:"variation"`
	Options   []string `json:"options"`
}

// Variation is one variation of a variable product.
type Variation struct {
	ID            int64                `json:"id"`
	SKU           string               `json:"sku"`
	RegularPrice  string               `json:"regular_price"`
	StockQuantity *int                 `json:"stock_quantity"`
	StockStatus   string               `json:"stock_status"`
	Attributes    []VariationAttribute `json:"attributes"`
}

type VariationAttribute struct {
	Name   string `json:"name"`
	Option string `json:"option"`
}

// ProductWrite is a product in a batch create/update.
type ProductWrite struct {
	ID          int64       `json:"id,omitempty"`
	Name        string      `json:"name,omitempty"`
	SKU         string      `json:"sku,omitempty"`
	Type        string      `json:"type,omitempty"`
	Status      string      `json:"status,omitempty"`
	StockStatus string      `json:"stock_status,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// VariationWrite is a variation in a batch create/update.
type VariationWrite struct {
	ID            int64                `json:"id,omitempty"`
	SKU           string               `json:"sku,omitempty"`
	RegularPrice  string               `json:"regular_price,omitempty"`
	ManageStock   *bool                `json:"manage_stock,omitempty"`
	StockQuantity *int                 `json:"stock_quantity,omitempty"`
	StockStatus   string               `json:"stock_status,omitempty"`
	Attributes    []VariationAttribute `json:"attributes,omitempty"`
}

type BatchBody[T any] struct {
	Create []T `json:"create,omitempty"`
	Update []T `json:"update,omitempty"`
}

// BatchResult is the echo of one batch item. Rejected items carry Error.
type BatchResult struct {
	ID    int64       `json:"id"`
	SKU   string      `json:"sku"`
	Error *BatchError `json:"error,omitempty"`
}

type BatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BatchResponse struct {
	Create []BatchResult `json:"create"`
	Update []BatchResult `json:"update"`
}
