package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/go-resty/resty/v2"
	"golang.org/x/crypto/bcrypt"
)

var (
	appKey      = ""
	appSecret   = ""
	eventServer = ""
)

func init() {
	appKey = os.Getenv("PURCHASES_APP_KEY")
	appSecret = os.Getenv("PURCHASES_APP_SECRET")
	eventServer = os.Getenv("PURCHASES_EVENT_SERVER")
}

const (
	GroupID           = "purchase-events.subscription-backend"
	EventVersion      = "v1"
	AccessTokenHeader = "X-Access-Token"
)

// Client posts purchase events to the system event gateway, authenticating
// with a short-lived bcrypt-signed access token.
type Client struct {
	HttpClient *resty.Client
}

func NewClient() *Client {
	c := resty.New()

	return &Client{
		HttpClient: c.SetTimeout(2 * time.Second),
	}
}

// AccessTokenRequest is the token grant request sent to the gateway.
type AccessTokenRequest struct {
	AppKey    string            `json:"app_key"`
	Timestamp int64             `json:"timestamp"`
	Token     string            `json:"token"`
	Perm      PermissionRequire `json:"perm"`
}

// PermissionRequire scopes what the granted token may do.
type PermissionRequire struct {
	Group    string   `json:"group"`
	Version  string   `json:"version"`
	DataType string   `json:"dataType"`
	Ops      []string `json:"ops"`
}

// AccessTokenResp is the gateway's token grant response.
type AccessTokenResp struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    struct {
		AccessToken string `json:"access_token"`
	} `json:"data,omitempty"`
}

// EventEnvelope wraps one event for the gateway.
type EventEnvelope struct {
	Type    string      `json:"type"`
	Version string      `json:"version"`
	Data    interface{} `json:"data"`
}

// GetAccessToken requests a create-scoped token from the gateway. The token
// password is the app key and secret bracketing a unix timestamp, hashed with
// bcrypt so the secret never travels in clear.
func (c *Client) GetAccessToken() (string, error) {
	url := fmt.Sprintf("http://%s/permission/v1alpha1/access", eventServer)
	now := time.Now().UnixMilli() / 1000

	password := appKey + strconv.Itoa(int(now)) + appSecret
	encode, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	perm := AccessTokenRequest{
		AppKey:    appKey,
		Timestamp: now,
		Token:     string(encode),
		Perm: PermissionRequire{
			Group:    GroupID,
			Version:  EventVersion,
			DataType: "event",
			Ops: []string{
				"Create",
			},
		},
	}

	postData, err := json.Marshal(perm)
	if err != nil {
		return "", err
	}

	resp, err := c.HttpClient.R().
		SetHeader(restful.HEADER_ContentType, restful.MIME_JSON).
		SetBody(postData).
		SetResult(&AccessTokenResp{}).
		Post(url)

	if err != nil {
		return "", err
	}

	if resp.StatusCode() != http.StatusOK {
		return "", errors.New(string(resp.Body()))
	}

	token := resp.Result().(*AccessTokenResp)

	if token.Code != 0 {
		return "", errors.New(token.Message)
	}

	return token.Data.AccessToken, nil
}

// CreateEvent pushes one event through the gateway's fire endpoint.
func (c *Client) CreateEvent(eventType string, data interface{}) error {
	if eventServer == "" {
		return nil
	}

	token, err := c.GetAccessToken()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/system-server/v1alpha1/event/%s/v1/create", eventServer, GroupID)
	envelope := EventEnvelope{
		Type:    eventType,
		Version: EventVersion,
		Data:    data,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	resp, err := c.HttpClient.R().
		SetHeader(restful.HEADER_ContentType, restful.MIME_JSON).
		SetHeader(AccessTokenHeader, token).
		SetBody(body).
		Post(url)
	if err != nil {
		return err
	}

	if resp.StatusCode() != http.StatusOK {
		return errors.New(string(resp.Body()))
	}

	return nil
}
