package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

func taskURL(taskID, dashboardURL string) string {
	return fmt.Sprintf("%s/tasks/%s", dashboardURL, taskID)
}

// BuildTaskFailedMessage creates Block Kit blocks for a terminal pipeline
// failure notification.
func BuildTaskFailedMessage(taskID, pipelineID, errMsg, dashboardURL string) []goslack.Block {
	text := fmt.Sprintf(":x: *Pipeline run failed* — `%s`\nPipeline: `%s`\n<%s|View in Dashboard>",
		taskID, pipelineID, taskURL(taskID, dashboardURL))

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	if errMsg != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "```"+truncateText(errMsg, maxBlockTextLength)+"```", false, false),
			nil, nil,
		))
	}
	return blocks
}

// BuildPublishResultMessage creates Block Kit blocks for a publish outcome
// notification.
func BuildPublishResultMessage(publishID, accountID, title, platformURL, errMsg string, success bool, dashboardURL string) []goslack.Block {
	var text string
	if success {
		text = fmt.Sprintf(":white_check_mark: *Published* — %s\nAccount: `%s`", truncateText(title, 200), accountID)
		if platformURL != "" {
			text += fmt.Sprintf("\n<%s|Watch>", platformURL)
		}
	} else {
		text = fmt.Sprintf(":x: *Publish failed* — %s\nAccount: `%s`\nPublish: `%s`",
			truncateText(title, 200), accountID, publishID)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	if !success && errMsg != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "```"+truncateText(errMsg, maxBlockTextLength)+"```", false, false),
			nil, nil,
		))
	}
	return blocks
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
