// Package messages maps failure codes and outcomes to user-facing, localized
// strings. Japanese is the default language; English is provided for
// interactions whose locale asks for it.
//
// Every reply to an interaction is built here so call sites never carry their
// own fallback strings.
package messages

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/tbourn/go-archive-bot/internal/domain"
)

// Message keys that are not error codes.
const (
	keyVideoArchived     = "video_archived"
	keyChallengeArchived = "challenge_archived"
	keyAcknowledged      = "acknowledged"
)

// Supported lists the languages with translations, default first.
var Supported = []language.Tag{language.Japanese, language.English}

var matcher = language.NewMatcher(Supported)

var entries = map[language.Tag]map[string]string{
	language.Japanese: {
		string(domain.CodeUnsupportedURL):       "サポートされていないURLです。YouTube・ニコニコ動画・Xのリンクを指定してください。",
		string(domain.CodeDuplicatedURL):        "このURLは既に登録されています。",
		string(domain.CodeFailedGetOGP):         "URLから情報を取得できませんでした。時間をおいて再度お試しください。",
		string(domain.CodeMissingRequiredField): "必須項目が入力されていません。",
		string(domain.CodeInvalidURL):           "URLの形式が正しくありません。",
		string(domain.CodeUnauthorized):         "リクエストの認証に失敗しました。",
		string(domain.CodeForbidden):            "この操作を行う権限がありません。",
		string(domain.CodeChannelNotAllowed):    "このチャンネルではこのコマンドを使用できません。",
		string(domain.CodeBadRequest):           "リクエストの形式が正しくありません。",
		string(domain.CodeUnexpected):           "予期せぬエラーが発生しました。開発者に通知しました。",
		keyVideoArchived:                        "動画をアーカイブに登録しました！\ntitle: %s\nurl: %s",
		keyChallengeArchived:                    "チャレンジをアーカイブに登録しました！\ntitle: %s",
		keyAcknowledged:                         "OK",
	},
	language.English: {
		string(domain.CodeUnsupportedURL):       "This URL is not supported. Please submit a YouTube, niconico or X link.",
		string(domain.CodeDuplicatedURL):        "This URL has already been archived.",
		string(domain.CodeFailedGetOGP):         "Could not fetch information from the URL. Please try again later.",
		string(domain.CodeMissingRequiredField): "A required field is missing.",
		string(domain.CodeInvalidURL):           "The URL is not valid.",
		string(domain.CodeUnauthorized):         "Request authentication failed.",
		string(domain.CodeForbidden):            "You are not allowed to do this.",
		string(domain.CodeChannelNotAllowed):    "This command cannot be used in this channel.",
		string(domain.CodeBadRequest):           "The request is malformed.",
		string(domain.CodeUnexpected):           "An unexpected error occurred. The developers have been notified.",
		keyVideoArchived:                        "Archived the video!\ntitle: %s\nurl: %s",
		keyChallengeArchived:                    "Archived the challenge!\ntitle: %s",
		keyAcknowledged:                         "OK",
	},
}

var cat = mustBuildCatalog()

func mustBuildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.Japanese))
	for tag, msgs := range entries {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Match maps a client locale (e.g. "ja", "en-US") to a supported language.
// Unknown or empty locales fall back to def.
func Match(locale string, def language.Tag) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return def
	}
	t, err := language.Parse(locale)
	if err != nil {
		return def
	}
	_, idx, conf := matcher.Match(t)
	if conf == language.No {
		return def
	}
	return Supported[idx]
}

func printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}

// ToUserMessage returns the localized text for code. It is total: codes
// outside the known set get the unexpected-error text.
func ToUserMessage(tag language.Tag, code domain.ErrorCode) string {
	if !known(code) {
		code = domain.CodeUnexpected
	}
	return printer(tag).Sprintf(string(code))
}

// VideoArchived is the success text for a stored video.
func VideoArchived(tag language.Tag, title, url string) string {
	return printer(tag).Sprintf(keyVideoArchived, title, url)
}

// ChallengeArchived is the success text for a stored challenge. The URL line
// is appended for link challenges.
func ChallengeArchived(tag language.Tag, title, url string) string {
	s := printer(tag).Sprintf(keyChallengeArchived, title)
	if url != "" {
		s += "\nurl: " + url
	}
	return s
}

// Acknowledged is the generic reply for interactions that need no action.
func Acknowledged(tag language.Tag) string {
	return printer(tag).Sprintf(keyAcknowledged)
}

// Fields echoes the submission back in failure replies.
type Fields struct {
	Title       string
	Description string
	URL         string
}

// FailureContent builds the reply for a failed submission. Severe codes get
// the long form echoing every field so the submitter can retry by hand;
// ordinary codes get the message plus the URL when one is known.
func FailureContent(tag language.Tag, code domain.ErrorCode, f Fields) string {
	msg := ToUserMessage(tag, code)
	if code.Severe() || !known(code) {
		return msg + "\n\n" +
			"title: " + orDash(f.Title) + "\n" +
			"description: " + orDash(f.Description) + "\n" +
			"url: " + orDash(f.URL)
	}
	if f.URL != "" {
		return msg + "\nurl: " + f.URL
	}
	return msg
}

func known(code domain.ErrorCode) bool {
	for _, c := range domain.Codes {
		if c == code {
			return true
		}
	}
	return false
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
