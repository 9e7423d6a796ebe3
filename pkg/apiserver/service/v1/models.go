package v1

// ProductsResponse carries resolved store products keyed by identifier.
type ProductsResponse struct {
	Products map[string]ProductModel `json:"products"`
}

// ProductModel is the wire shape of one store product.
type ProductModel struct {
	Identifier         string  `json:"identifier"`
	Price              float64 `json:"price"`
	CurrencyCode       string  `json:"currency_code"`
	SubscriptionPeriod string  `json:"subscription_period,omitempty"`
	SubscriptionGroup  string  `json:"subscription_group,omitempty"`
}

// CustomerInfoResponse wraps the raw subscriber snapshot.
type CustomerInfoResponse struct {
	AppUserID    string                 `json:"app_user_id"`
	CustomerInfo map[string]interface{} `json:"customer_info"`
}

// OfferingsResponse is the assembled offerings container.
type OfferingsResponse struct {
	CurrentOfferingID string          `json:"current_offering_id,omitempty"`
	Offerings         []OfferingModel `json:"offerings"`
}

type OfferingModel struct {
	Identifier        string         `json:"identifier"`
	ServerDescription string         `json:"server_description"`
	Packages          []PackageModel `json:"packages"`
}

type PackageModel struct {
	Identifier        string `json:"identifier"`
	PackageType       string `json:"package_type"`
	ProductIdentifier string `json:"product_identifier"`
}

// EligibilityResponse maps product identifiers to eligibility statuses.
type EligibilityResponse struct {
	Eligibility map[string]string `json:"eligibility"`
}

// IdentityResponse reports the active identity after a transition.
type IdentityResponse struct {
	AppUserID   string `json:"app_user_id"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// PurchaseRequest asks for a purchase of a product or package.
type PurchaseRequest struct {
	ProductIdentifier  string `json:"product_identifier"`
	OfferingIdentifier string `json:"offering_identifier,omitempty"`
	PackageIdentifier  string `json:"package_identifier,omitempty"`
}

// PurchaseResponse reports the outcome of a purchase or restore.
type PurchaseResponse struct {
	TransactionID string                 `json:"transaction_id,omitempty"`
	CustomerInfo  map[string]interface{} `json:"customer_info,omitempty"`
	UserCancelled bool                   `json:"user_cancelled"`
}

// IdentifyRequest switches the active identity.
type IdentifyRequest struct {
	AppUserID string `json:"app_user_id"`
}

// AttributesRequest stages subscriber attributes.
type AttributesRequest struct {
	Attributes map[string]string `json:"attributes"`
}

// AttributionRequest forwards an attribution payload.
type AttributionRequest struct {
	Network int                    `json:"network"`
	Data    map[string]interface{} `json:"data"`
}

// EligibilityRequest asks for intro eligibility classification.
type EligibilityRequest struct {
	ProductIdentifiers []string `json:"product_identifiers"`
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
