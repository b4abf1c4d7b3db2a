package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whisper/backend/internal/auth"
	"whisper/backend/internal/chat"
	"whisper/backend/internal/storage/blob"
)

// MessageHandler 处理聊天消息相关的 HTTP 请求
type MessageHandler struct {
	chat  *chat.Service
	blobs blob.Store
	log   *zap.Logger
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(chatService *chat.Service, blobs blob.Store, log *zap.Logger) *MessageHandler {
	return &MessageHandler{
		chat:  chatService,
		blobs: blobs,
		log:   log,
	}
}

type createMessageRequest struct {
	Text string `json:"text"`
}

// List 返回房间内全部消息
func (h *MessageHandler) List(c *gin.Context, principal *auth.Principal) {
	messages, err := h.chat.List(c.Request.Context(), principal.Email)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Create 发布文本消息
func (h *MessageHandler) Create(c *gin.Context, principal *auth.Principal) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid payload"})
		return
	}

	message, err := h.chat.Create(c.Request.Context(), principal.Email, req.Text)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// Upload 上传图片消息，表单字段名为 image
func (h *MessageHandler) Upload(c *gin.Context, principal *auth.Principal) {
	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, h.log, err)
			return
		}
		respondError(c, h.log, chat.ErrNoFile)
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer file.Close()

	message, err := h.chat.CreateImage(c.Request.Context(), principal.Email, &chat.Upload{
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// Delete 删除自己的消息
func (h *MessageHandler) Delete(c *gin.Context, principal *auth.Principal) {
	if err := h.chat.Delete(c.Request.Context(), principal.Email, c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ServeUpload 输出上传的图片，公开访问
func (h *MessageHandler) ServeUpload(c *gin.Context) {
	h.blobs.Serve(c.Writer, c.Request, c.Param("key"))
}
