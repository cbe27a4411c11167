package restyutil

import (
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type CaptureOutput interface {
	Write(id string, contents string)
}

// AttachCapture writes the full wire exchange of every response the
// client sees to output, one numbered file per exchange. Scraper
// selectors break silently when the site's markup changes, so having
// the exact pages a run saw on disk is the fastest way to diagnose a
// harvest that suddenly comes back empty.
//
// `output` can be nil, if it is, then the function is a no-op.
func AttachCapture(client *resty.Client, output CaptureOutput) {
	if output == nil {
		return
	}

	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := strconv.FormatUint(atomic.AddUint64(&idcounter, 1), 10)
		output.Write(id, formatHttpMessage(res))
		return nil
	})
}
