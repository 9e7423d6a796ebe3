package v1

import (
	"fmt"
	"net/http"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"

	"purchases"
)

const (
	APIRootPath = "/purchases"
	Version     = "v1"
)

var (
	ModuleTags = []string{"purchases"}
)

func newWebService() *restful.WebService {
	webservice := restful.WebService{}

	webservice.Path(fmt.Sprintf("%s/%s", APIRootPath, Version)).
		Produces(restful.MIME_JSON)

	return &webservice
}

func AddToContainer(c *restful.Container, client *purchases.Purchases) error {
	ws := newWebService()
	handler := newHandler(client)

	ws.Route(ws.POST("/products").
		To(handler.products).
		Doc("resolve store product metadata for a set of identifiers").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Reads(EligibilityRequest{}).
		Returns(http.StatusOK, "resolved products", &ProductsResponse{}))

	ws.Route(ws.GET("/customer-info").
		To(handler.customerInfo).
		Doc("get the subscriber snapshot for the current user").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Param(ws.QueryParameter("background", "use the background staleness threshold")).
		Returns(http.StatusOK, "subscriber snapshot", &CustomerInfoResponse{}))

	ws.Route(ws.POST("/customer-info/invalidate").
		To(handler.invalidateCustomerInfoCache).
		Doc("invalidate the cached subscriber snapshot").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Returns(http.StatusOK, "cache invalidated", &MessageResponse{}))

	ws.Route(ws.GET("/offerings").
		To(handler.offerings).
		Doc("get the presentable offerings for the current user").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Returns(http.StatusOK, "assembled offerings", &OfferingsResponse{}))

	ws.Route(ws.POST("/purchase").
		To(handler.purchase).
		Doc("purchase a product").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Reads(PurchaseRequest{}).
		Returns(http.StatusOK, "purchase outcome", &PurchaseResponse{}))

	ws.Route(ws.POST("/restore").
		To(handler.restore).
		Doc("restore previous purchases onto the current user").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Returns(http.StatusOK, "restored subscriber snapshot", &PurchaseResponse{}))

	ws.Route(ws.POST("/sync").
		To(handler.syncPurchases).
		Doc("sync purchases made outside the SDK").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Returns(http.StatusOK, "synced subscriber snapshot", &PurchaseResponse{}))

	ws.Route(ws.POST("/eligibility").
		To(handler.eligibility).
		Doc("check trial or introductory price eligibility").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Reads(EligibilityRequest{}).
		Returns(http.StatusOK, "eligibility per product", &EligibilityResponse{}))

	ws.Route(ws.GET("/identity").
		To(handler.identity).
		Doc("get the active app user id").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Returns(http.StatusOK, "active identity", &IdentityResponse{}))

	ws.Route(ws.POST("/identity/identify").
		To(handler.identify).
		Doc("switch to a known app user id").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Reads(IdentifyRequest{}).
		Returns(http.StatusOK, "active identity", &IdentityResponse{}))

	ws.Route(ws.POST("/identity/alias").
		To(handler.createAlias).
		Doc("alias a new app user id to the current one").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Reads(IdentifyRequest{}).
		Returns(http.StatusOK, "active identity", &IdentityResponse{}))

	ws.Route(ws.POST("/identity/reset").
		To(handler.reset).
		Doc("reset to a fresh anonymous identity").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Returns(http.StatusOK, "active identity", &IdentityResponse{}))

	ws.Route(ws.POST("/attributes").
		To(handler.setAttributes).
		Doc("stage subscriber attributes for the next receipt post").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Reads(AttributesRequest{}).
		Returns(http.StatusOK, "attributes staged", &MessageResponse{}))

	ws.Route(ws.POST("/attribution").
		To(handler.attribution).
		Doc("forward attribution data to the backend").
		Metadata(restfulspec.KeyOpenAPITags, ModuleTags).
		Reads(AttributionRequest{}).
		Returns(http.StatusOK, "attribution posted", &MessageResponse{}))

	c.Add(ws)

	return nil
}
