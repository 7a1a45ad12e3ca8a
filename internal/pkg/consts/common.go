package consts

const (
	MimePrefixImage = "image"
	MimePrefixAudio = "audio"
	MimePrefixVideo = "video"
)

// 推送通道前缀
const (
	ConversationChannelKey = "parley:conv:"
	UserChannelKey         = "parley:user:"
)

// 推送事件类型
const (
	EventMessageInsert    = "message.insert"
	EventMessageUpdate    = "message.update"
	EventReadReceipt      = "message.read"
	EventTyping           = "typing"
	EventConversationList = "conversation.change"
)

// OrphanUploadKey 取消上传后未能删除的对象
const OrphanUploadKey = "parley:media:orphans"
