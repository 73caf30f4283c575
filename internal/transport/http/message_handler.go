package httptransport

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
)

// 批量操作动作
const (
	actionDeleteByIDs = "deleteMessagesByIds"
	actionDeleteAll   = "deleteAllMessages"
)

type messageResponse struct {
	ID          string    `json:"id"`
	MailboxID   string    `json:"mailboxId"`
	Direction   string    `json:"direction"`
	FromAddress string    `json:"fromAddress"`
	ToAddress   *string   `json:"toAddress,omitempty"`
	Subject     string    `json:"subject"`
	TextBody    string    `json:"textBody"`
	HTMLBody    string    `json:"htmlBody,omitempty"`
	Starred     bool      `json:"starred"`
	CreatedAt   time.Time `json:"createdAt"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

type messagePageResponse struct {
	Messages   []messageResponse `json:"messages"`
	NextCursor string            `json:"nextCursor,omitempty"`
	Total      int               `json:"total"`
}

// listMessages 按键集游标翻页返回邮箱内的邮件。
// cursor 为空表示第一页；非法 cursor 报 400，与缺失区分开。
func (h *Handler) listMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		limit = parsed
	}

	page, err := h.messages.Page(c.Param("id"), c.Query("cursor"), c.Query("scope"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	responses := make([]messageResponse, 0, len(page.Messages))
	for i := range page.Messages {
		responses = append(responses, toMessageResponse(&page.Messages[i]))
	}

	Success(c, messagePageResponse{
		Messages:   responses,
		NextCursor: page.NextCursor,
		Total:      page.Total,
	})
}

type composeMessageRequest struct {
	To      string `json:"to" binding:"required"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// composeMessage 发信：先消耗当日配额，再落一条 sent 记录。
func (h *Handler) composeMessage(c *gin.Context) {
	var req composeMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	message, err := h.messages.Compose(c.Request.Context(), c.Param("id"), req.To, req.Subject, req.Text, req.HTML)
	if err != nil {
		writeError(c, err)
		return
	}

	Created(c, toMessageResponse(message))
}

// getMessage 查看单封邮件。
func (h *Handler) getMessage(c *gin.Context) {
	msg, err := h.messages.Get(c.Param("id"), c.Param("messageId"))
	if err != nil {
		writeError(c, err)
		return
	}
	Success(c, toMessageResponse(msg))
}

// deleteMessage 删除单封邮件，重复删除不算错误。
func (h *Handler) deleteMessage(c *gin.Context) {
	deleted, err := h.messages.Delete(c.Param("id"), c.Param("messageId"))
	if err != nil {
		writeError(c, err)
		return
	}
	Success(c, gin.H{"deleted": deleted})
}

// starMessage 标星。
func (h *Handler) starMessage(c *gin.Context) {
	h.setStarred(c, true)
}

// unstarMessage 取消标星。
func (h *Handler) unstarMessage(c *gin.Context) {
	h.setStarred(c, false)
}

func (h *Handler) setStarred(c *gin.Context, starred bool) {
	if err := h.messages.SetStarred(c.Param("id"), c.Param("messageId"), starred); err != nil {
		writeError(c, err)
		return
	}
	Success(c, gin.H{"starred": starred})
}

type batchMessagesRequest struct {
	Action string   `json:"action" binding:"required"`
	IDs    []string `json:"ids"`
	Scope  string   `json:"scope"`
}

type batchMessagesResponse struct {
	DeletedCount int          `json:"deletedCount"`
	DeletedIDs   []string     `json:"deletedIds,omitempty"`
	Scope        domain.Scope `json:"scope,omitempty"`
}

// batchMessages 批量邮件操作。
// 两种动作都只返回真正删掉的 ID，调用方据此同步本地状态。
func (h *Handler) batchMessages(c *gin.Context) {
	var req batchMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	mailboxID := c.Param("id")

	switch req.Action {
	case actionDeleteByIDs:
		deleted, err := h.messages.DeleteByIDs(mailboxID, req.IDs)
		if err != nil {
			writeError(c, err)
			return
		}
		Success(c, batchMessagesResponse{
			DeletedCount: len(deleted),
			DeletedIDs:   deleted,
		})

	case actionDeleteAll:
		scope, err := domain.ParseScope(req.Scope)
		if err != nil {
			writeError(c, err)
			return
		}
		deleted, err := h.messages.DeleteByScope(mailboxID, req.Scope)
		if err != nil {
			writeError(c, err)
			return
		}
		Success(c, batchMessagesResponse{
			DeletedCount: len(deleted),
			DeletedIDs:   deleted,
			Scope:        scope,
		})

	default:
		BadRequest(c, MsgInvalidAction)
	}
}

// toMessageResponse 转换邮件实体为响应体。
func toMessageResponse(message *domain.Message) messageResponse {
	return messageResponse{
		ID:          message.ID,
		MailboxID:   message.MailboxID,
		Direction:   string(message.Direction),
		FromAddress: message.FromAddress,
		ToAddress:   message.ToAddress,
		Subject:     message.Subject,
		TextBody:    message.TextBody,
		HTMLBody:    message.HTMLBody,
		Starred:     message.Starred,
		CreatedAt:   message.CreatedAt,
		ReceivedAt:  message.ReceivedAt,
	}
}
