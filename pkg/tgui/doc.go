// Package tgui builds Telegram HTML replies.
//
// Values of type H are already escaped for ParseMode="HTML"; plain strings go
// through Esc (or one of the tag helpers) before they are concatenated.
package tgui
