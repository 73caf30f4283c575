package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/mmaxou/Moemail-for-University/internal/service"
)

type redeemRequest struct {
	Code        string `json:"code" binding:"required"`
	EmailPrefix string `json:"emailPrefix"`
}

type redeemResponse struct {
	Code    string           `json:"code"`
	Kind    string           `json:"kind"`
	Mailbox *mailboxResponse `json:"mailbox,omitempty"`
}

// redeemCode 兑换一次性兑换码。
// B 类码未提供合法前缀时报 400 并带 needPrefix 标记，
// 此时兑换码尚未被占用，可以换前缀重试。
func (h *Handler) redeemCode(c *gin.Context) {
	userID := callerID(c)
	if userID == nil {
		BadRequest(c, "缺少 X-User-ID 请求头")
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.redemption.Redeem(req.Code, *userID, req.EmailPrefix)
	if err != nil {
		if errors.Is(err, service.ErrPrefixInvalid) {
			c.JSON(400, Response{
				Code: CodeBadRequest,
				Msg:  GetErrorMessage(err),
				Data: gin.H{"needPrefix": true},
			})
			return
		}
		writeError(c, err)
		return
	}

	resp := redeemResponse{
		Code: result.Code.Code,
		Kind: string(result.Code.Kind),
	}
	if result.Mailbox != nil {
		mb := toMailboxResponse(result.Mailbox)
		resp.Mailbox = &mb
	}

	Success(c, resp)
}
