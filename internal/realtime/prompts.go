package realtime

// SystemPrompt is the base instruction set for a qualification call.
const SystemPrompt = `You are a professional and friendly sales representative conducting outbound calls for lead qualification.

Your goal is to:
1. Introduce yourself and the company professionally
2. Qualify the lead by understanding their needs and interest
3. Gather key information: name, email, company, budget, timeline
4. Determine if they are a good fit for our services
5. Close the conversation politely

Guidelines:
- Be conversational and natural
- Ask one question at a time
- Confirm important details before moving on
- If the lead is not interested, thank them and end the call
- Offer to schedule a follow-up if they are busy`

const greetingPrompt = `Start the conversation by greeting the lead and introducing yourself.
Ask whether they have a few minutes to chat, then wait for their response before proceeding.`

const qualifyingPrompt = `Ask qualifying questions to understand if they have a need for our services.`

const gatheringInfoPrompt = `Gather the lead's contact information and project details: full name, email address,
company name, budget range, timeline and main challenges.`

const closingPrompt = `Thank the lead for their time.
If they are interested, tell them someone from the team will follow up by email and ask if they have questions.
If they are not interested, thank them and say goodbye.`

// QualifyingQuestions are asked one at a time while gathering information.
var QualifyingQuestions = []string{
	"Can I get your full name please?",
	"What's the best email address to reach you at?",
	"What company are you with?",
	"What kind of budget are you working with for this project?",
	"What's your timeline for getting started?",
	"What are the main challenges you're looking to solve?",
}

// PromptForState returns the instructions for a call state name.
func PromptForState(state string) string {
	switch state {
	case "greeting":
		return greetingPrompt
	case "qualifying":
		return qualifyingPrompt
	case "gathering_info":
		return gatheringInfoPrompt
	case "closing":
		return closingPrompt
	default:
		return SystemPrompt
	}
}

// InstructionsForState combines the system prompt with the step-specific prompt.
func InstructionsForState(state string) string {
	p := PromptForState(state)
	if p == SystemPrompt {
		return SystemPrompt
	}
	out := SystemPrompt + "\n\nCurrent step:\n" + p
	if state == "gathering_info" {
		out += "\n\nQuestions:"
		for _, q := range QualifyingQuestions {
			out += "\n- " + q
		}
	}
	return out
}
