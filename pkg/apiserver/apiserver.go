package apiserver

import (
	"net/http"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/golang/glog"

	"purchases"
	"purchases/internal/config"
	servicev1 "purchases/pkg/apiserver/service/v1"
)

type APIServer struct {
	Server *http.Server

	// RESTful Server
	container *restful.Container

	client *purchases.Purchases
}

func New(cfg *config.Config, client *purchases.Purchases) (*APIServer, error) {
	as := &APIServer{client: client}

	server := &http.Server{
		Addr: cfg.ListenAddr,
	}

	as.Server = server
	return as, nil
}

func (s *APIServer) PrepareRun() error {
	s.container = restful.NewContainer()
	s.container.Filter(logRequestAndResponse)
	s.container.Router(restful.CurlyRouter{})
	s.container.RecoverHandler(func(panicReason interface{}, httpWriter http.ResponseWriter) {
		logStackOnRecover(panicReason, httpWriter)
	})

	s.installModuleAPI()
	s.installAPIDocs()

	for _, ws := range s.container.RegisteredWebServices() {
		glog.Infof("registered module: %s", ws.RootPath())
	}

	s.Server.Handler = s.container

	return nil
}

func (s *APIServer) Run() error {
	return s.Server.ListenAndServe()
}

func (s *APIServer) installAPIDocs() {
	config := restfulspec.Config{
		WebServices:                   s.container.RegisteredWebServices(),
		APIPath:                       "/purchases/v1/apidocs.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject}
	s.container.Add(restfulspec.NewOpenAPIService(config))

	cors := restful.CrossOriginResourceSharing{
		AllowedHeaders: []string{"Content-Type", "Accept"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		CookiesAllowed: false,
		Container:      restful.DefaultContainer}
	s.container.Filter(cors.Filter)
}

func (s *APIServer) installModuleAPI() {
	_ = servicev1.AddToContainer(s.container, s.client)
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "Purchases",
			Description: "In-app purchase reconciliation and entitlement service",
			Version:     "1.0.0",
		},
	}
	swo.Tags = []spec.Tag{{TagProps: spec.TagProps{
		Name:        "Purchases",
		Description: "Purchase reconciliation API"}}}
	swo.Schemes = []string{"http", "https"}
}
