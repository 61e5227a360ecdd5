package service

// NoInformationResponse is the fixed answer served when retrieval comes
// back empty.
const NoInformationResponse = "No relevant information was found in the knowledge base for this question."

// degradedAnswerHeader labels answers served without generation.
const degradedAnswerHeader = "The answer service is currently unavailable. Raw retrieved context follows:"

// degradedContextLimit caps how much raw context a degraded answer echoes.
const degradedContextLimit = 2000

// defaultSystemPrompt keeps the model grounded in the retrieved context.
const defaultSystemPrompt = `You are a precise assistant that answers strictly from the provided context.

Rules:
1. Use only facts found in the context documents.
2. If the context does not contain the answer, say the knowledge base has no relevant information.
3. Never invent names, numbers, dates, or sources.
4. Answer in the language of the question.
5. Be brief and direct.`
