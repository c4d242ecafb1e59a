// Package tgui provides small Telegram UI helpers: inline keyboards,
// "scope:action:payload" callback data and escaped HTML fragments for
// ParseMode="HTML".
package tgui
