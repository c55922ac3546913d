package config

import (
	"strings"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/spf13/viper"
)

const defaultSearchQuerySystemMessage = `You are a bot that translates user queries into an effective search query for a product knowledge base.
Ensure the user's intent is captured by including relevant keywords or phrases from their query.
Only return the search query and nothing else in your response.`

const defaultChatResponseSystemMessage = `You are a customer service bot designed to answer questions on products.
Keep your answers short and to the point. Use dot points where possible.
Answer ONLY with the facts listed in the sources below. If there isn't enough information below, say you don't know.
Do not generate answers that don't use the sources below. If asking a clarifying question to the user would help, ask the question.
If the question is not in English, answer in the language used in the question.
Each source has a name followed by the actual information, always include the source name for each fact you use in the response.
Use square brackets to reference the source, for example [info1.txt]. Don't combine sources, list each source separately, for example [info1.txt][info2.pdf].`

const defaultNoGroundingMessage = `NO GROUNDING CONTEXT: no sources were found for this question.
Do not invent facts. Tell the user you could not find relevant information and suggest rephrasing the question.`

// Prompts holds the system messages used by the chat flow.
type Prompts struct {
	SearchQuerySystemMessage  string `mapstructure:"search_query_system_message"`
	ChatResponseSystemMessage string `mapstructure:"chat_response_system_message"`
	NoGroundingMessage        string `mapstructure:"no_grounding_message"`
}

// DefaultPrompts returns the built-in system messages.
func DefaultPrompts() *Prompts {
	return &Prompts{
		SearchQuerySystemMessage:  defaultSearchQuerySystemMessage,
		ChatResponseSystemMessage: defaultChatResponseSystemMessage,
		NoGroundingMessage:        defaultNoGroundingMessage,
	}
}

// LoadPrompts reads a YAML prompts file. Keys missing from the file keep
// their built-in values; an empty path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	defaults := DefaultPrompts()

	v := viper.New()
	v.SetDefault("search_query_system_message", defaults.SearchQuerySystemMessage)
	v.SetDefault("chat_response_system_message", defaults.ChatResponseSystemMessage)
	v.SetDefault("no_grounding_message", defaults.NoGroundingMessage)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, domain.NewConfigurationError("failed to read prompts file "+path, err)
		}
	}

	var p Prompts
	if err := v.Unmarshal(&p); err != nil {
		return nil, domain.NewConfigurationError("failed to decode prompts file", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate rejects blank messages.
func (p *Prompts) Validate() error {
	if strings.TrimSpace(p.ChatResponseSystemMessage) == "" {
		return domain.NewConfigurationError("chat_response_system_message must not be empty", nil)
	}
	if strings.TrimSpace(p.SearchQuerySystemMessage) == "" {
		return domain.NewConfigurationError("search_query_system_message must not be empty", nil)
	}
	if strings.TrimSpace(p.NoGroundingMessage) == "" {
		return domain.NewConfigurationError("no_grounding_message must not be empty", nil)
	}
	return nil
}
