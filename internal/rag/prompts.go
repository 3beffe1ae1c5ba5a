package rag

const contextualizeSystemPrompt = "Given a chat history and the latest user question " +
	"which might reference context in the chat history, " +
	"formulate a standalone question which can be understood " +
	"without the chat history. Do NOT answer the question, " +
	"just reformulate it if needed and otherwise return it as is."

const qaSystemPrompt = "You are a helpful AI assistant. Use the following context to answer the user's question."

const contextSeparator = "\n\n"

const summaryPrefix = "Previous context summary: "
