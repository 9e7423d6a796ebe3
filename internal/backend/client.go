package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/glog"

	"purchases/internal/customerinfo"
	"purchases/internal/types"
)

const (
	apiVersionPath    = "/v1"
	authHeader        = "Authorization"
	platformHeader    = "X-Platform"
	versionHeader     = "X-Version"
	observerModeParam = "observer_mode"
)

// Client talks to the subscription-management backend.
type Client struct {
	http     *resty.Client
	apiKey   string
	platform string
	version  string
}

// NewClient creates a backend client for the given base URL and API key.
func NewClient(baseURL, apiKey, platform, sdkVersion string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL+apiVersionPath).
		SetTimeout(timeout)

	return &Client{
		http:     c,
		apiKey:   apiKey,
		platform: platform,
		version:  sdkVersion,
	}
}

func (c *Client) request() *resty.Request {
	return c.http.R().
		SetHeader(authHeader, "Bearer "+c.apiKey).
		SetHeader(platformHeader, c.platform).
		SetHeader(versionHeader, c.version).
		SetHeader("Content-Type", "application/json")
}

// GetSubscriberInfo fetches the canonical subscriber snapshot.
func (c *Client) GetSubscriberInfo(appUserID string) (*customerinfo.CustomerInfo, error) {
	resp, err := c.request().Get("/subscribers/" + url.PathEscape(appUserID))
	if err != nil {
		return nil, types.WrapError(types.ErrNetwork, err, "get subscriber failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, mapBackendError(resp)
	}
	return customerinfo.Parse(resp.Body())
}

// ReceiptRequest is everything posted alongside a validated receipt.
type ReceiptRequest struct {
	AppUserID           string
	ReceiptData         []byte
	ProductInfo         map[string]interface{}
	IsRestore           bool
	PresentedOfferingID string
	ObserverMode        bool
	Attributes          map[string]string
}

// PostReceipt posts a receipt and returns the updated subscriber snapshot.
func (c *Client) PostReceipt(req ReceiptRequest) (*customerinfo.CustomerInfo, error) {
	body := map[string]interface{}{
		"app_user_id":   req.AppUserID,
		"fetch_token":   base64.StdEncoding.EncodeToString(req.ReceiptData),
		"is_restore":    req.IsRestore,
		"observer_mode": req.ObserverMode,
	}
	if req.ProductInfo != nil {
		for k, v := range req.ProductInfo {
			body[k] = v
		}
	}
	if req.PresentedOfferingID != "" {
		body["presented_offering_identifier"] = req.PresentedOfferingID
	}
	if len(req.Attributes) > 0 {
		body["attributes"] = req.Attributes
	}

	resp, err := c.request().SetBody(body).Post("/receipts")
	if err != nil {
		return nil, types.WrapError(types.ErrNetwork, err, "post receipt failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, mapBackendError(resp)
	}
	return customerinfo.Parse(resp.Body())
}

// CreateAlias links newAppUserID to the currently-known appUserID.
func (c *Client) CreateAlias(appUserID, newAppUserID string) error {
	resp, err := c.request().
		SetBody(map[string]string{"new_app_user_id": newAppUserID}).
		Post("/subscribers/" + url.PathEscape(appUserID) + "/alias")
	if err != nil {
		return types.WrapError(types.ErrNetwork, err, "create alias failed")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return mapBackendError(resp)
	}
	return nil
}

// GetOfferings fetches the raw offerings configuration payload. The factory
// owns parsing; malformed payloads are its concern.
func (c *Client) GetOfferings(appUserID string) (json.RawMessage, error) {
	resp, err := c.request().Get("/subscribers/" + url.PathEscape(appUserID) + "/offerings")
	if err != nil {
		return nil, types.WrapError(types.ErrNetwork, err, "get offerings failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, mapBackendError(resp)
	}
	return json.RawMessage(resp.Body()), nil
}

// GetIntroEligibility asks the backend to classify intro-price eligibility,
// used as the fallback when local receipt calculation fails.
func (c *Client) GetIntroEligibility(appUserID string, receiptData []byte, productIDs []string) (map[string]types.IntroEligibilityStatus, error) {
	body := map[string]interface{}{
		"fetch_token": base64.StdEncoding.EncodeToString(receiptData),
		"product_ids": productIDs,
	}
	result := map[string]bool{}
	resp, err := c.request().
		SetBody(body).
		SetResult(&result).
		Post("/subscribers/" + url.PathEscape(appUserID) + "/intro_eligibility")
	if err != nil {
		return nil, types.WrapError(types.ErrNetwork, err, "intro eligibility lookup failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, mapBackendError(resp)
	}

	eligibility := make(map[string]types.IntroEligibilityStatus, len(productIDs))
	for _, id := range productIDs {
		eligible, known := result[id]
		switch {
		case !known:
			eligibility[id] = types.IntroEligibilityUnknown
		case eligible:
			eligibility[id] = types.IntroEligibilityEligible
		default:
			eligibility[id] = types.IntroEligibilityIneligible
		}
	}
	return eligibility, nil
}

// SignedOffer is the backend's signature over a promotional offer.
type SignedOffer struct {
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	KeyID     string `json:"key_id"`
	Timestamp int64  `json:"timestamp"`
}

// PostOfferForSigning requests a discount signature for a promotional offer.
func (c *Client) PostOfferForSigning(appUserID, productID, offerID, subscriptionGroup string, receiptData []byte) (*SignedOffer, error) {
	body := map[string]interface{}{
		"app_user_id":        appUserID,
		"product_id":         productID,
		"generate_offers":    []string{offerID},
		"subscription_group": subscriptionGroup,
		"fetch_token":        base64.StdEncoding.EncodeToString(receiptData),
	}
	var result struct {
		Offers []struct {
			OfferID     string       `json:"offer_id"`
			SignedOffer *SignedOffer `json:"signature_data"`
			Error       *wireError   `json:"signature_error"`
		} `json:"offers"`
	}
	resp, err := c.request().SetBody(body).SetResult(&result).Post("/offers")
	if err != nil {
		return nil, types.WrapError(types.ErrNetwork, err, "offer signing failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, mapBackendError(resp)
	}
	for _, offer := range result.Offers {
		if offer.OfferID != offerID {
			continue
		}
		if offer.SignedOffer != nil {
			return offer.SignedOffer, nil
		}
		if offer.Error != nil {
			return nil, types.NewError(types.ErrIneligible, "offer %s not signable: %s", offerID, offer.Error.Message)
		}
	}
	return nil, types.NewError(types.ErrUnexpectedBackendResponse, "no signature returned for offer %s", offerID)
}

// PostAttributionData forwards attribution payloads for a subscriber.
func (c *Client) PostAttributionData(appUserID string, network int, data map[string]interface{}) error {
	body := map[string]interface{}{
		"network": network,
		"data":    data,
	}
	resp, err := c.request().
		SetBody(body).
		Post("/subscribers/" + url.PathEscape(appUserID) + "/attribution")
	if err != nil {
		return types.WrapError(types.ErrNetwork, err, "post attribution failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return mapBackendError(resp)
	}
	return nil
}

type wireError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Finishable *bool  `json:"finishable,omitempty"`
}

// Backend error codes carried in error response bodies.
const (
	codeInvalidAPIKey           = 7001
	codeInvalidAppUserID        = 7002
	codeInvalidReceipt          = 7100
	codeReceiptInUseByOther     = 7101
	codeProductAlreadyPurchased = 7102
	codeReceiptAlreadyPosted    = 7103
	codeInvalidAttributes       = 7104
	codeInsufficientPermissions = 7005
)

// mapBackendError maps a non-2xx backend response to the error taxonomy. The
// finishable flag comes from the response body when present; otherwise any
// non-5xx rejection is treated as permanent and therefore finishable.
func mapBackendError(resp *resty.Response) *types.PurchasesError {
	var we wireError
	if err := json.Unmarshal(resp.Body(), &we); err != nil {
		glog.Warningf("unparseable backend error body (status %d)", resp.StatusCode())
	}

	code := types.ErrUnknownBackend
	switch we.Code {
	case codeInvalidAPIKey:
		code = types.ErrInvalidCredentials
	case codeInvalidAppUserID:
		code = types.ErrInvalidAppUserID
	case codeInvalidReceipt:
		code = types.ErrInvalidReceipt
	case codeReceiptInUseByOther:
		code = types.ErrReceiptInUseByOtherSubscriber
	case codeProductAlreadyPurchased:
		code = types.ErrProductAlreadyPurchased
	case codeReceiptAlreadyPosted:
		code = types.ErrReceiptAlreadyInUse
	case codeInvalidAttributes:
		code = types.ErrInvalidSubscriberAttributes
	case codeInsufficientPermissions:
		code = types.ErrInsufficientPermissions
	default:
		if resp.StatusCode() >= http.StatusInternalServerError {
			code = types.ErrUnknownBackend
		} else if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			code = types.ErrInvalidCredentials
		}
	}

	message := we.Message
	if message == "" {
		message = fmt.Sprintf("backend returned status %d", resp.StatusCode())
	}

	perr := types.NewError(code, "%s", message)
	if we.Finishable != nil {
		perr.Finishable = *we.Finishable
	} else {
		perr.Finishable = resp.StatusCode() < http.StatusInternalServerError
	}
	return perr
}
