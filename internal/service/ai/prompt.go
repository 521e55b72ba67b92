package ai

import "strings"

// DefaultPromptTemplate 是文档问答的默认系统提示词，{project} 会被替换为项目名。
const DefaultPromptTemplate = `You are the documentation assistant of the {project} project.
Use the conversation so far and what you know about {project} to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

After the answer, add a line "Related Questions:" followed by up to three numbered follow-up questions the user may ask next.`

// PromptBuilder 负责渲染系统提示词。
type PromptBuilder struct {
	template string
	project  string
}

// NewPromptBuilder 创建提示词构建器，template 为空时使用默认模板。
func NewPromptBuilder(template, project string) *PromptBuilder {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	return &PromptBuilder{template: template, project: project}
}

// SystemPrompt 返回替换占位符之后的系统提示词。
func (b *PromptBuilder) SystemPrompt() string {
	return strings.ReplaceAll(b.template, "{project}", b.project)
}
