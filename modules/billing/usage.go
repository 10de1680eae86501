package billing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/tier"
	"github.com/dmitrymomot/tierkit/pkg/usage"
)

type usageRequest struct {
	Quota tier.QuotaName `path:"quota"`
	// Amount defaults to 1 when the body is omitted.
	Amount int64 `json:"amount"`
}

type usageResponse struct {
	Quota     tier.QuotaName `json:"quota"`
	Tier      tier.Name      `json:"tier"`
	Allowed   bool           `json:"allowed"`
	Limit     int64          `json:"limit"`
	Used      int64          `json:"used"`
	Remaining int64          `json:"remaining"`
	ResetAt   time.Time      `json:"reset_at,omitzero"`
}

func usageView(res usage.Result) usageResponse {
	return usageResponse{
		Quota:     res.Quota,
		Tier:      res.Tier,
		Allowed:   res.Allowed,
		Limit:     res.Limit,
		Used:      res.Used,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt,
	}
}

func (m *module) usageStatus(ctx handler.Context, req usageRequest) handler.Response {
	res, err := m.opts.Usage.Status(ctx, accountID(ctx), req.Quota)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(usageView(res))
}

// consume meters req.Amount units. A rejected call consumed nothing and
// answers 429 with Retry-After set to the next window boundary.
func (m *module) consume(ctx handler.Context, req usageRequest) handler.Response {
	if req.Amount == 0 {
		req.Amount = 1
	}
	res, err := m.opts.Usage.Consume(ctx, accountID(ctx), req.Quota, req.Amount)
	if err != nil {
		return m.fail(ctx, err)
	}
	if !res.Allowed {
		retry := int64(res.RetryAfter(time.Now()).Round(time.Second) / time.Second)
		return handler.JSON(handler.JSONResponse{
			Data: usageView(res),
			Error: &handler.ErrorDetail{
				Code:    "quota_exceeded",
				Message: "Usage limit reached for " + string(req.Quota) + " on the " + string(res.Tier) + " plan.",
			},
		},
			handler.WithJSONStatus(http.StatusTooManyRequests),
			handler.WithJSONHeader("Retry-After", strconv.FormatInt(max(retry, 1), 10)),
		)
	}
	return handler.JSON(usageView(res))
}
