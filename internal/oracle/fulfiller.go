package oracle

import (
	"context"
	"errors"
	"net/http"

	"ConfidentialLedger/internal/decryption"
	xerrors "ConfidentialLedger/internal/errors"
	ledgersdk "ConfidentialLedger/sdk/go/ledger"
)

// HTTPFulfiller 通过账本的 REST 接口回填结果，用于预言机独立部署的场景。
type HTTPFulfiller struct {
	client *ledgersdk.Client
}

var _ Fulfiller = (*HTTPFulfiller)(nil)

// NewHTTPFulfiller 创建基于 SDK 的回填器。
func NewHTTPFulfiller(client *ledgersdk.Client) *HTTPFulfiller {
	return &HTTPFulfiller{client: client}
}

// Fulfill 提交签名结果。服务端的 4xx 拒绝被转换为不可重试的统一错误。
func (f *HTTPFulfiller) Fulfill(ctx context.Context, result decryption.Fulfillment) error {
	err := f.client.SubmitFulfillment(ctx, result)
	if err == nil {
		return nil
	}
	var apiErr *ledgersdk.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError {
		return xerrors.Wrap(xerrors.Code(apiErr.Code), err, apiErr.Message, xerrors.WithRetryable(false))
	}
	return err
}
