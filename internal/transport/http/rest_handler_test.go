package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"interactive-report-service/internal/aggregate"
	"interactive-report-service/internal/app"
	"interactive-report-service/internal/content"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/identity"
	"interactive-report-service/internal/infra/memory"
)

type restFixture struct {
	server *httptest.Server
	engine *aggregate.Engine
	issuer *identity.Issuer
}

func newRESTFixture(t *testing.T, issuer *identity.Issuer) restFixture {
	t.Helper()
	repo := memory.NewContentRepository(content.NewStaticLoader(content.Sample()), time.Minute)
	engine := aggregate.NewEngine(memory.NewDocStore())
	service := app.NewReportService(repo, repo, memory.NewRoomStore(), engine, app.Options{})

	router := mux.NewRouter()
	NewRESTHandler(service, issuer, nil).Register(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return restFixture{server: server, engine: engine, issuer: issuer}
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestQuestionHidesAnswerKey(t *testing.T) {
	f := newRESTFixture(t, nil)

	var q domain.Question
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/questions/funding-quiz", &q))
	require.Len(t, q.Options, 3)
	for _, opt := range q.Options {
		require.False(t, opt.IsCorrect)
	}

	var guess domain.Question
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/questions/share-guess", &guess))
	require.Nil(t, guess.CorrectValue)

	require.Equal(t, http.StatusNotFound, getJSON(t, f.server.URL+"/questions/nope", nil))
}

func TestResultsAndCue(t *testing.T) {
	f := newRESTFixture(t, nil)
	ctx := context.Background()
	q := content.Sample().Questions[0]
	_, err := f.engine.Finalize(ctx, "u1", q, domain.StringValue("high"))
	require.NoError(t, err)

	var view aggregate.View
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/questions/trust-poll/results", &view))
	require.Equal(t, 1, view.TotalVotes)
	require.Equal(t, 100, view.Options[0].Percent)

	var cue struct {
		Index int `json:"index"`
		Cue   struct {
			Section string `json:"section"`
		} `json:"cue"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.server.URL+"/pages/public-media/cue?t=170", &cue))
	require.Equal(t, 3, cue.Index)
	require.Equal(t, "consequences", cue.Cue.Section)

	require.Equal(t, http.StatusBadRequest, getJSON(t, f.server.URL+"/pages/public-media/cue?t=soon", nil))
	require.Equal(t, http.StatusNotFound, getJSON(t, f.server.URL+"/pages/nope", nil))
}

func TestIdentityAndSummary(t *testing.T) {
	f := newRESTFixture(t, identity.NewIssuer("secret", time.Hour))

	resp, err := http.Post(f.server.URL+"/identity", "application/json", nil)
	require.NoError(t, err)
	var id identity.Identity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, id.Token)

	quiz := content.Sample().Questions[1]
	_, err = f.engine.Finalize(context.Background(), id.ID, quiz, domain.StringValue("fees"))
	require.NoError(t, err)

	var summary domain.Summary
	url := f.server.URL + "/summary?token=" + id.Token + "&questions=trust-poll,funding-quiz"
	require.Equal(t, http.StatusOK, getJSON(t, url, &summary))
	require.Equal(t, 1, summary.Answered)
	require.Equal(t, 1, summary.QuizCorrect)

	require.Equal(t, http.StatusUnauthorized, getJSON(t, f.server.URL+"/summary?token=bad&questions=trust-poll", nil))
}
