package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavelanni/reminisce/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AnswerCorrect")
	if got != "Correct!" {
		t.Errorf("T(AnswerCorrect) = %q, want 'Correct!'", got)
	}
}

func TestTranslateJapanese(t *testing.T) {
	ctx := initLang(t, "ja")

	got := T(ctx, "AnswerCorrect")
	if got != "正解です！" {
		t.Errorf("T(AnswerCorrect) = %q, want '正解です！'", got)
	}
}

func TestUnsupportedLanguageFallsBack(t *testing.T) {
	ctx := initLang(t, "ky")

	got := T(ctx, "AnswerCorrect")
	if got != "Correct!" {
		t.Errorf("T(AnswerCorrect) = %q, want English fallback", got)
	}
}

func TestWindowLabel(t *testing.T) {
	tests := []struct {
		lang string
		w    model.LookbackWindow
		want string
	}{
		{"en", model.WindowOneWeek, "1 week ago"},
		{"en", model.WindowSixMonths, "6 months ago"},
		{"en", model.WindowOneYear, "1 year ago"},
		{"ja", model.WindowOneMonth, "1か月前"},
		{"fi", model.WindowSixMonths, "6 kuukautta sitten"},
	}
	for _, tt := range tests {
		ctx := initLang(t, tt.lang)
		if got := WindowLabel(ctx, tt.w); got != tt.want {
			t.Errorf("WindowLabel(%s, %v) = %q, want %q", tt.lang, tt.w, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "NotificationTitle", map[string]any{"Window": "1 year ago"})
	if got != "A memory from 1 year ago" {
		t.Errorf("Td(NotificationTitle) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "ExercisesListed", 1); got != "1 exercise" {
		t.Errorf("Tp(ExercisesListed, 1) = %q", got)
	}
	if got := Tp(ctx, "ExercisesListed", 5); got != "5 exercises" {
		t.Errorf("Tp(ExercisesListed, 5) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLanguageName(t *testing.T) {
	tests := []struct {
		lang, in model.Language
		want     string
	}{
		{"fi", "en", "Finnish"},
		{"fi", "ja", "フィンランド語"},
		{"de", "fi", "saksa"},
	}
	for _, tt := range tests {
		if got := LanguageName(tt.lang, tt.in); got != tt.want {
			t.Errorf("LanguageName(%s, %s) = %q, want %q", tt.lang, tt.in, got, tt.want)
		}
	}
}

func TestMiddlewarePrefersAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "AnswerCorrect")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "正解です！" {
		t.Errorf("with Accept-Language ja: got %q", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "Correct!" {
		t.Errorf("without Accept-Language: got %q", got)
	}
}

func TestWithLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	if got := Language(context.Background()); got != "en" {
		t.Errorf("default Language = %q, want en", got)
	}
	ctx := WithLanguage(context.Background(), "ja")
	if got := Language(ctx); got != "ja" {
		t.Errorf("Language = %q, want ja", got)
	}
	if got := T(ctx, "AnswerCorrect"); got != "正解です！" {
		t.Errorf("T(AnswerCorrect) = %q", got)
	}
}
