package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/netx"
)

var (
	ErrUnavailable       = errors.New("server unavailable")
	ErrUnauthorized      = common.ErrUnauthorized
	ErrBadLinkAttributes = errors.New("bad link attributes")
	ErrBadNotification   = errors.New("bad notification")
	ErrBadMessageID      = errors.New("bad message id")
)

// mapStatus turns a non-2xx response into a sentinel error.
func mapStatus(resp *http.Response) error {
	if netx.IsSuccess(resp.StatusCode) {
		return nil
	}
	err := netx.StatusError(resp)
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", common.ErrorNotFound, err)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %w", common.ErrAccountAlreadyExists, err)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", common.ErrInvalidHTTPResponse, err)
	}
}
