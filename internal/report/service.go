// Package report renders the preconsultation summary and delivers it to the
// doctor.
package report

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var ErrDeliveryDisabled = errors.New("report delivery is not configured")

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName string) error
}

// Delivery tells how a report reached the doctor.
type Delivery string

const (
	DeliveredPDF  Delivery = "pdf"
	DeliveredText Delivery = "text"
)

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
	fontPaths    []string
	log          *zap.Logger
}

func NewService(tg TelegramClient, doctorChatID int64, fontPaths []string, log *zap.Logger) *Service {
	if len(fontPaths) == 0 {
		fontPaths = DefaultFontPaths
	}
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		fontPaths:    fontPaths,
		log:          log,
	}
}

// PDF renders r with the configured fonts.
func (s *Service) PDF(r Report) ([]byte, error) {
	return RenderPDF(r, s.fontPaths)
}

// SendDoctorReport sends r as a PDF document to the doctor chat. When the PDF
// cannot be built the Markdown text is sent as a plain message instead.
func (s *Service) SendDoctorReport(ctx context.Context, r Report, name string) (Delivery, error) {
	if s.tgClient == nil || s.doctorChatID == 0 {
		return "", ErrDeliveryDisabled
	}

	data, err := s.PDF(r)
	if err != nil {
		s.log.Warn("PDF report unavailable, sending text", zap.Error(err))
		if err := s.tgClient.SendMessage(ctx, s.doctorChatID, r.Markdown()); err != nil {
			return "", fmt.Errorf("sending report text: %w", err)
		}
		return DeliveredText, nil
	}

	fileName := fmt.Sprintf("report_%s.pdf", fileSafe(name))
	s.log.Info("sending PDF report",
		zap.Int64("chat_id", s.doctorChatID),
		zap.String("file", fileName),
	)
	if err := s.tgClient.SendDocument(ctx, s.doctorChatID, data, fileName); err != nil {
		return "", fmt.Errorf("sending report document: %w", err)
	}
	return DeliveredPDF, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func fileSafe(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if s == "" {
		return "consultation"
	}
	return s
}
