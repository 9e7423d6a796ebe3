package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/emicklei/go-restful/v3"
	"github.com/golang/glog"

	"purchases"
	"purchases/internal/customerinfo"
	"purchases/internal/offerings"
	"purchases/internal/store"
	"purchases/internal/types"
	"purchases/pkg/api"
)

type Handler struct {
	client *purchases.Purchases
}

func newHandler(client *purchases.Purchases) *Handler {
	return &Handler{client: client}
}

func customerInfoPayload(info *customerinfo.CustomerInfo) map[string]interface{} {
	blob, err := info.JSONObject()
	if err != nil {
		glog.Warningf("failed to serialize customer info: %v", err)
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(blob, &obj); err != nil {
		return nil
	}
	return obj
}

func (h *Handler) products(req *restful.Request, resp *restful.Response) {
	var body EligibilityRequest
	if err := req.ReadEntity(&body); err != nil || len(body.ProductIdentifiers) == 0 {
		api.HandleBadRequest(resp, errors.New("product_identifiers is required"))
		return
	}

	h.client.Products(body.ProductIdentifiers, func(resolved map[string]store.Product, err error) {
		if err != nil {
			api.HandleError(resp, err)
			return
		}
		out := ProductsResponse{Products: make(map[string]ProductModel, len(resolved))}
		for id, p := range resolved {
			out.Products[id] = ProductModel{
				Identifier:         p.Identifier,
				Price:              p.Price,
				CurrencyCode:       p.CurrencyCode,
				SubscriptionPeriod: p.SubscriptionPeriod,
				SubscriptionGroup:  p.SubscriptionGroup,
			}
		}
		_ = resp.WriteHeaderAndEntity(http.StatusOK, out)
	})
}

func (h *Handler) customerInfo(req *restful.Request, resp *restful.Response) {
	foreground := req.QueryParameter("background") != "true"
	h.client.CustomerInfo(foreground, func(info *customerinfo.CustomerInfo, err error) {
		if err != nil {
			api.HandleError(resp, err)
			return
		}
		_ = resp.WriteHeaderAndEntity(http.StatusOK, CustomerInfoResponse{
			AppUserID:    h.client.AppUserID(),
			CustomerInfo: customerInfoPayload(info),
		})
	})
}

func (h *Handler) invalidateCustomerInfoCache(req *restful.Request, resp *restful.Response) {
	h.client.InvalidateCustomerInfoCache()
	_ = resp.WriteHeaderAndEntity(http.StatusOK, MessageResponse{Message: api.Success})
}

func (h *Handler) offerings(req *restful.Request, resp *restful.Response) {
	h.client.Offerings(func(offs *offerings.Offerings, err error) {
		if err != nil {
			api.HandleError(resp, err)
			return
		}
		out := OfferingsResponse{}
		if current := offs.Current(); current != nil {
			out.CurrentOfferingID = current.Identifier
		}
		ids := make([]string, 0, len(offs.All))
		for id := range offs.All {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			off := offs.All[id]
			model := OfferingModel{
				Identifier:        off.Identifier,
				ServerDescription: off.ServerDescription,
			}
			for _, pkg := range off.AvailablePackages {
				model.Packages = append(model.Packages, PackageModel{
					Identifier:        pkg.Identifier,
					PackageType:       pkg.Type.String(),
					ProductIdentifier: pkg.Product.Identifier,
				})
			}
			out.Offerings = append(out.Offerings, model)
		}
		_ = resp.WriteHeaderAndEntity(http.StatusOK, out)
	})
}

func (h *Handler) purchase(req *restful.Request, resp *restful.Response) {
	var body PurchaseRequest
	if err := req.ReadEntity(&body); err != nil || body.ProductIdentifier == "" {
		api.HandleBadRequest(resp, errors.New("product_identifier is required"))
		return
	}

	h.client.Products([]string{body.ProductIdentifier}, func(resolved map[string]store.Product, err error) {
		if err != nil {
			api.HandleError(resp, err)
			return
		}
		product, ok := resolved[body.ProductIdentifier]
		if !ok {
			api.HandleError(resp, types.NewError(types.ErrProductNotAvailableForPurchase,
				"product %s not found", body.ProductIdentifier))
			return
		}

		done := make(chan struct{})
		var out PurchaseResponse
		var purchaseErr error
		h.client.PurchaseProduct(product, func(tx *store.Transaction, info *customerinfo.CustomerInfo, err error, userCancelled bool) {
			if tx != nil {
				out.TransactionID = tx.ID
			}
			if info != nil {
				out.CustomerInfo = customerInfoPayload(info)
			}
			out.UserCancelled = userCancelled
			purchaseErr = err
			close(done)
		})

		// The store resolves asynchronously; give up when the caller does so
		// a stalled gateway cannot pin the request forever.
		select {
		case <-done:
		case <-req.Request.Context().Done():
			api.HandleError(resp, types.NewError(types.ErrProductRequestTimedOut,
				"purchase of %s did not resolve before the request ended", body.ProductIdentifier))
			return
		}

		if purchaseErr != nil && !out.UserCancelled {
			api.HandleError(resp, purchaseErr)
			return
		}
		_ = resp.WriteHeaderAndEntity(http.StatusOK, out)
	})
}

func (h *Handler) restore(req *restful.Request, resp *restful.Response) {
	h.client.RestoreTransactions(func(info *customerinfo.CustomerInfo, err error) {
		if err != nil {
			api.HandleError(resp, err)
			return
		}
		_ = resp.WriteHeaderAndEntity(http.StatusOK, PurchaseResponse{
			CustomerInfo: customerInfoPayload(info),
		})
	})
}

func (h *Handler) syncPurchases(req *restful.Request, resp *restful.Response) {
	h.client.SyncPurchases(func(info *customerinfo.CustomerInfo, err error) {
		if err != nil {
			api.HandleError(resp, err)
			return
		}
		_ = resp.WriteHeaderAndEntity(http.StatusOK, PurchaseResponse{
			CustomerInfo: customerInfoPayload(info),
		})
	})
}

func (h *Handler) eligibility(req *restful.Request, resp *restful.Response) {
	var body EligibilityRequest
	if err := req.ReadEntity(&body); err != nil || len(body.ProductIdentifiers) == 0 {
		api.HandleBadRequest(resp, errors.New("product_identifiers is required"))
		return
	}

	h.client.CheckTrialOrIntroEligibility(body.ProductIdentifiers, func(result map[string]types.IntroEligibilityStatus) {
		out := EligibilityResponse{Eligibility: make(map[string]string, len(result))}
		for id, status := range result {
			out.Eligibility[id] = string(status)
		}
		_ = resp.WriteHeaderAndEntity(http.StatusOK, out)
	})
}

func (h *Handler) identity(req *restful.Request, resp *restful.Response) {
	_ = resp.WriteHeaderAndEntity(http.StatusOK, IdentityResponse{
		AppUserID:   h.client.AppUserID(),
		IsAnonymous: h.client.IsAnonymous(),
	})
}

func (h *Handler) identify(req *restful.Request, resp *restful.Response) {
	var body IdentifyRequest
	if err := req.ReadEntity(&body); err != nil {
		api.HandleBadRequest(resp, err)
		return
	}
	if err := h.client.Identify(body.AppUserID); err != nil {
		api.HandleError(resp, err)
		return
	}
	h.identity(req, resp)
}

func (h *Handler) createAlias(req *restful.Request, resp *restful.Response) {
	var body IdentifyRequest
	if err := req.ReadEntity(&body); err != nil {
		api.HandleBadRequest(resp, err)
		return
	}
	if err := h.client.CreateAlias(body.AppUserID); err != nil {
		api.HandleError(resp, err)
		return
	}
	h.identity(req, resp)
}

func (h *Handler) reset(req *restful.Request, resp *restful.Response) {
	h.client.Reset()
	h.identity(req, resp)
}

func (h *Handler) setAttributes(req *restful.Request, resp *restful.Response) {
	var body AttributesRequest
	if err := req.ReadEntity(&body); err != nil || len(body.Attributes) == 0 {
		api.HandleBadRequest(resp, errors.New("attributes is required"))
		return
	}
	h.client.SetAttributes(body.Attributes)
	_ = resp.WriteHeaderAndEntity(http.StatusOK, MessageResponse{Message: api.Success})
}

func (h *Handler) attribution(req *restful.Request, resp *restful.Response) {
	var body AttributionRequest
	if err := req.ReadEntity(&body); err != nil {
		api.HandleBadRequest(resp, err)
		return
	}
	if err := h.client.SetAttributionData(body.Network, body.Data); err != nil {
		api.HandleError(resp, err)
		return
	}
	_ = resp.WriteHeaderAndEntity(http.StatusOK, MessageResponse{Message: api.Success})
}
