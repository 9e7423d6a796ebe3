package apiserver

import (
	"bytes"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/golang/glog"

	"purchases/pkg/api"
	"purchases/pkg/utils"
)

func logStackOnRecover(panicReason interface{}, w http.ResponseWriter) {
	var buffer bytes.Buffer
	buffer.WriteString(fmt.Sprintf("recover from panic situation: - %v\r\n", panicReason))
	for i := 2; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		buffer.WriteString(fmt.Sprintf("    %s:%d\r\n", file, line))
	}
	glog.Errorln(buffer.String())

	w.WriteHeader(http.StatusInternalServerError)
	err := api.NewError(api.ErrorInternalServerError, http.StatusText(http.StatusInternalServerError))
	_, _ = w.Write([]byte(err.Error()))
}

func logRequestAndResponse(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)

	// Always log error response
	logWithVerbose := glog.V(4)
	if resp.StatusCode() > http.StatusBadRequest {
		logWithVerbose = glog.V(0)
	}

	logWithVerbose.Infof("%s - \"%s %s %s\" %d %d %dms",
		utils.RemoteIp(req.Request),
		req.Request.Method,
		req.Request.URL,
		req.Request.Proto,
		resp.StatusCode(),
		resp.ContentLength(),
		time.Since(start)/time.Millisecond,
	)
}
