// Package telegram connects the assistant to a Telegram bot.
//
// Updates arrive by long polling (default) or through a webhook mounted on
// the HTTP gateway. Each chat is one conversation, keyed "telegram:<chat id>".
// Replies are chunked to the Bot API message limit, or streamed by editing a
// placeholder message. /clear wipes the chat's memory and /image draws a
// picture.
//
// No external Telegram library is used; the package talks to the Bot API
// with net/http and encoding/json.
package telegram
