package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/asset-lifecycle/internal/breaker"
)

// ErrOpen is returned while the breaker refuses calls.
var ErrOpen = errors.New("directory: circuit open")

// Client looks employees up in the HR directory: GET {base}/employees/{id}.
// 200 means the employee exists, 404 that it does not; anything else is a failure
// counted by the breaker.
type Client struct {
	baseURL string
	client  *http.Client
	br      *breaker.Breaker
}

func NewClient(baseURL string, timeout time.Duration, failThreshold int, openFor time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		br:      breaker.New(failThreshold, openFor),
	}
}

func (c *Client) Ready() bool { return c.br.Ready() }

func (c *Client) EmployeeExists(ctx context.Context, id int64) (bool, error) {
	if !c.br.TryAcquire() {
		return false, ErrOpen
	}

	ok, err := c.get(ctx, id)
	if err != nil {
		c.br.OnFailure()
		return false, err
	}

	c.br.OnSuccess()

	return ok, nil
}

func (c *Client) get(ctx context.Context, id int64) (bool, error) {
	url := c.baseURL + "/employees/" + strconv.FormatInt(id, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return false, err
	}

	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	case res.StatusCode/100 == 2:
		return true, nil
	default:
		return false, fmt.Errorf("directory: GET %s status=%d", url, res.StatusCode)
	}
}
