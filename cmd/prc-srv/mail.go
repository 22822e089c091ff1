// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

type mailer struct {
	usr  string
	pwd  string
	srv  string
	port int
	tgts []string

	dial func(msg *mail.Message) error
}

func newMailer() *mailer {
	m := &mailer{
		usr:  os.Getenv("MAIL_USERNAME"),
		pwd:  os.Getenv("MAIL_PASSWORD"),
		srv:  os.Getenv("MAIL_SERVER"),
		port: atoi(os.Getenv("MAIL_PORT")),
	}
	if v := os.Getenv("MAIL_TGTS"); v != "" {
		m.tgts = strings.Split(v, ",")
	}
	m.dial = func(msg *mail.Message) error {
		dial := mail.NewDialer(m.srv, m.port, m.usr, m.pwd)
		dial.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		return dial.DialAndSend(msg)
	}
	return m
}

func (m *mailer) send(subject, body string) error {
	if m.usr == "" || m.pwd == "" ||
		m.srv == "" || m.port == 0 ||
		len(m.tgts) == 0 {
		return fmt.Errorf("could not send mail alert: missing credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.usr)
	msg.SetHeader("Bcc", m.tgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	err := m.dial(msg)
	if err != nil {
		return fmt.Errorf("could not send mail alert: %w", err)
	}
	return nil
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
