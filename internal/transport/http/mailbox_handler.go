package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/service"
)

type createMailboxRequest struct {
	Prefix    string `json:"prefix"`
	Domain    string `json:"domain"`
	ExpiresIn string `json:"expiresIn"`
}

type mailboxResponse struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	LocalPart string    `json:"localPart"`
	Domain    string    `json:"domain"`
	OwnerID   *string   `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type mailboxListResponse struct {
	Items []mailboxResponse `json:"items"`
	Count int               `json:"count"`
}

// createMailbox 创建临时邮箱。
// 匿名调用创建无属主邮箱，带 X-User-ID 时归属该用户并受数量上限约束。
func (h *Handler) createMailbox(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			BadRequest(c, MsgInvalidDuration)
			return
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	mailbox, err := h.mailboxes.Create(service.CreateMailboxInput{
		Prefix:    req.Prefix,
		Domain:    req.Domain,
		OwnerID:   callerID(c),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	Created(c, toMailboxResponse(mailbox))
}

// listMailboxes 返回调用方的邮箱列表。
func (h *Handler) listMailboxes(c *gin.Context) {
	userID := callerID(c)
	if userID == nil {
		BadRequest(c, "缺少 X-User-ID 请求头")
		return
	}

	mailboxes, err := h.mailboxes.ListByOwner(*userID)
	if err != nil {
		writeError(c, err)
		return
	}

	responses := make([]mailboxResponse, 0, len(mailboxes))
	for i := range mailboxes {
		responses = append(responses, toMailboxResponse(&mailboxes[i]))
	}

	Success(c, mailboxListResponse{
		Items: responses,
		Count: len(responses),
	})
}

// getMailbox 获取邮箱详情。
func (h *Handler) getMailbox(c *gin.Context) {
	mailbox, err := h.mailboxes.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	Success(c, toMailboxResponse(mailbox))
}

// deleteMailbox 删除邮箱及其全部邮件。
func (h *Handler) deleteMailbox(c *gin.Context) {
	if err := h.mailboxes.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	NoContent(c)
}

// toMailboxResponse 转换实体为响应体。
func toMailboxResponse(mailbox *domain.Mailbox) mailboxResponse {
	return mailboxResponse{
		ID:        mailbox.ID,
		Address:   mailbox.Address,
		LocalPart: mailbox.LocalPart,
		Domain:    mailbox.Domain,
		OwnerID:   mailbox.OwnerID,
		CreatedAt: mailbox.CreatedAt,
		ExpiresAt: mailbox.ExpiresAt,
	}
}
