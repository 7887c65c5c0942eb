// Package baselines holds the engine's prompt templates as Go constants.
package baselines

// SystemBase is the root system prompt; the conversation manager appends
// the summary, profile, and memory sections it has material for.
var SystemBase = `You are Ainara, a conversational assistant that can delegate work to external skills.

When a request needs an external capability (weather, search, calculations, device control, and similar), do not answer from your own knowledge. Instead emit a skill request delimited exactly like this:
<<<ORAKLE
<a one-line natural language description of what you need>
ORAKLE

Write the request as a plain capability description, never as prose addressed to the user. For everything else answer directly, concisely and naturally.
{{if .ConversationSummary}}
Summary of the conversation so far:
{{.ConversationSummary}}
{{end}}{{if .UserProfile}}
What you know about the user:
{{.UserProfile}}
{{end}}{{if .RecentMemories}}
Recently learned:
{{.RecentMemories}}
{{end}}{{if .RelevantMemories}}
Memories relevant to the current message:
{{.RelevantMemories}}
{{end}}`

// SkillSelection asks the LLM to pick a skill and synthesize its arguments.
var SkillSelection = `A user request needs an external capability.

Request: {{.Query}}

Candidate skills:
{{.Skills}}

Pick the single best skill and extract its parameters from the request. Reply with ONLY a JSON object, no prose:
{"skill_id": "<name>", "parameters": {<name>: <value>, ...}, "skill_intention": "<one short sentence telling the user what you are about to do>", "frustration_level": <0-10>, "frustration_reason": "<why, or empty>"}

Rules:
- skill_id must be one of the candidates.
- Include every required parameter; use defaults for omitted optional ones.
- skill_intention is user-facing; keep it short and friendly.`

// CommandInterpretation turns a raw skill result into a conversational answer.
var CommandInterpretation = `You asked an external skill to handle this request: {{.Query}}

The skill returned:
{{.Result}}
{{if .Profile}}
About the user:
{{.Profile}}
{{end}}{{if .Summary}}
Conversation summary:
{{.Summary}}
{{end}}{{if .Context}}
Recent conversation:
{{.Context}}
{{end}}
Answer the user's request using the skill result. Be natural and concise; do not mention the skill, the JSON, or these instructions. If the result is an error, apologize briefly and say what went wrong.`

// MemoryAssimilation drives the memory engine's per-turn action protocol.
var MemoryAssimilation = `You maintain long-term memories about the user of a conversational assistant.

Conversation snippet (most recent turn last):
{{.Conversation}}

Existing candidate memories:
{{.Candidates}}

Decide what to do with the information in the user's last turn. Reply with ONLY a JSON object:
{"action": "ignore" | "reinforce" | "create",
 "memory_id": "<id, when action is reinforce>",
 "text": "<replacement text, optional on reinforce>",
 "target": "key" | "extended",
 "topic": "<short topic, when action is create>",
 "past_memory_ids": ["<ids now superseded>", ...],
 "duplicates": ["<ids duplicating the kept memory>", ...]}

Rules:
- "ignore": the turn adds nothing durable about the user.
- "reinforce": an existing candidate already covers it; include its memory_id. Add "text" only if the wording should change.
- "create": record a new fact. "key" memories are identity-level facts (name, family, work, lasting preferences); "extended" memories are situational details.
- Use past_memory_ids when the turn invalidates old facts (moved city, changed job).
- Use duplicates when candidates state the same fact twice; the first kept memory absorbs them.
- Never create a memory that duplicates a candidate; reinforce it instead.`

// ProfileSummary synthesizes the user profile narrative from key memories.
var ProfileSummary = `Write a compact profile of the user from these facts, ordered by relevance (higher first):

{{.Memories}}

Compose one coherent paragraph in the third person. When facts conflict, trust the higher-relevance one. Do not invent anything, do not enumerate, do not mention relevance scores.`

// RecentMemoriesSummary narrates what was learned lately.
var RecentMemoriesSummary = `Summarize what was recently learned about the user from these facts (most recent first):

{{.Memories}}

One short paragraph, third person, no enumeration.`

// ConversationSummary creates or extends the running conversation summary.
var ConversationSummary = `{{if .CurrentSummary}}Current summary of the conversation:
{{.CurrentSummary}}

Extend the summary so it also covers these newer messages:{{else}}Summarize this conversation so far:{{end}}

{{.Messages}}

Write a dense third-person summary that preserves facts, decisions and open threads. Maximum {{.MaxWords}} words.`
