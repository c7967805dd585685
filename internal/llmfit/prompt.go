package llmfit

import (
	"encoding/json"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evanchen57/jobsieve/internal/model"
)

const promptJDLimit = 7000

const systemPrompt = "You are a strict screening assistant for a job-search pipeline. " +
	"Judge how well a single job posting fits the candidate profile. " +
	"Respond with one JSON object and nothing else: " +
	`{"fit_label":"high|medium|low","fit_score":<integer 0-100>,` +
	`"confidence":<number 0-1>,"reason_codes":[...],"missing_must_have":[...]}. ` +
	"Be conservative: when the description is vague, prefer lower scores."

type promptProfile struct {
	TargetRoles         []string `json:"target_roles"`
	MustHaveSkills      []string `json:"must_have_skills"`
	NiceToHaveSkills    []string `json:"nice_to_have_skills"`
	LocationPreferences []string `json:"location_preferences"`
	RemotePolicy        string   `json:"remote_policy"`
	HardExclusions      []string `json:"hard_exclusions"`
}

type promptJob struct {
	Company  string `json:"company"`
	Title    string `json:"title"`
	Location string `json:"location"`
	PostDate string `json:"post_date,omitempty"`
	Source   string `json:"source"`
	JDText   string `json:"jd_text"`
}

type promptTask struct {
	Task    string        `json:"task"`
	Profile promptProfile `json:"profile"`
	Job     promptJob     `json:"job"`
}

func buildPrompt(job model.NormalizedJob, profile model.Profile) string {
	task := promptTask{
		Task: "classify_job_fit",
		Profile: promptProfile{
			TargetRoles:         profile.TargetRoles,
			MustHaveSkills:      profile.MustHaveSkills,
			NiceToHaveSkills:    profile.NiceToHaveSkills,
			LocationPreferences: profile.LocationPreferences,
			RemotePolicy:        profile.RemotePolicy,
			HardExclusions:      profile.HardExclusions,
		},
		Job: promptJob{
			Company:  job.Company,
			Title:    job.Title,
			Location: job.Location,
			PostDate: job.PostDate,
			Source:   job.Source,
			JDText:   truncate(job.JDText, promptJDLimit),
		},
	}
	b, _ := json.Marshal(task)
	return string(b)
}

func chatMessages(job model.NormalizedJob, profile model.Profile) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: buildPrompt(job, profile)},
	}
}

// chatRequest builds the synchronous classification request. The provider
// treats an absent temperature as 1.0 and go-openai's struct tags drop a
// zero value on marshal, so the request carries the smallest representable
// nonzero float instead of a literal 0.
func chatRequest(llmModel string, job model.NormalizedJob, profile model.Profile) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       llmModel,
		Temperature: math.SmallestNonzeroFloat32,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: chatMessages(job, profile),
	}
}

// chatBody is the request body embedded in batch JSONL lines. It mirrors
// the chat-completions request but always emits the temperature key.
type chatBody struct {
	Model          string                               `json:"model"`
	Temperature    float32                              `json:"temperature"`
	ResponseFormat *openai.ChatCompletionResponseFormat `json:"response_format"`
	Messages       []openai.ChatCompletionMessage       `json:"messages"`
}

func batchBody(llmModel string, job model.NormalizedJob, profile model.Profile) chatBody {
	return chatBody{
		Model:       llmModel,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: chatMessages(job, profile),
	}
}
