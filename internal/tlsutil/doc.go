// Package tlsutil 为远程桥接（SSE、WebSocket）的拨号提供安全加固的 HTTP 客户端
// （TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
