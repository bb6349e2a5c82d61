// Package tgui holds small Telegram UI helpers: inline keyboard building
// and "action:payload" callback data tokens shared by the router and the
// conversation flow.
package tgui
