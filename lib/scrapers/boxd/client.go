// Package boxd scrapes the public pages of the film-tracking site:
// the per-user watched-films listing and the popular-members listing.
package boxd

import (
	"fmt"
	"net/http"
	"time"

	"boxdharvest-backend/lib/restyutil"
	"boxdharvest-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/boxd")

const DefaultBaseUrl = "https://letterboxd.com"

type Client struct {
	http *resty.Client
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	// defaults to 5
	RetryCount int
	// when set, every http exchange is written under this directory
	// for selector debugging
	CaptureDir string
}

func NewClient(opts ClientOptions) Client {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	retryCount := opts.RetryCount
	if retryCount == 0 {
		retryCount = 5
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 10)

	// resty's retry backoff is exponential with jitter already
	client.SetRetryCount(retryCount)
	client.SetRetryWaitTime(time.Second * 2)
	client.SetRetryMaxWaitTime(time.Second * 30)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res.StatusCode() == http.StatusTooManyRequests ||
			res.StatusCode() >= http.StatusInternalServerError
	})

	telemetry.InstrumentResty(client, "scrapers/boxd/http")
	if opts.CaptureDir != "" {
		restyutil.AttachCapture(client, restyutil.NewFilesystemOutput(opts.CaptureDir))
	}

	return Client{http: client}
}

type statusError struct {
	status int
	url    string
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.status, e.url)
}
