package feishu

import (
	"fmt"

	"TenderWatch/internal/domain"
)

// digestChunkSize caps the number of items rendered into one digest card;
// longer runs are split into several cards with range markers.
const digestChunkSize = 10

func card(template, title string, elements []map[string]any) map[string]any {
	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"template": template,
				"title":    map[string]any{"tag": "plain_text", "content": title},
			},
			"elements": elements,
		},
	}
}

func markdown(content string) map[string]any {
	return map[string]any{
		"tag":  "div",
		"text": map[string]any{"tag": "lark_md", "content": content},
	}
}

func newItemCard(c domain.NewItemCard) map[string]any {
	return card("blue", "📢 发现新招标："+c.Title, []map[string]any{
		markdown(fmt.Sprintf("**发布日期**：%s\n\n**AI 智能总结**：\n%s", c.Date, c.Summary)),
		{"tag": "hr"},
		{
			"tag": "action",
			"actions": []map[string]any{
				{
					"tag":  "button",
					"text": map[string]any{"tag": "plain_text", "content": "查看原文"},
					"url":  c.URL,
					"type": "primary",
				},
			},
		},
	})
}

func summaryCard(c domain.SummaryCard) map[string]any {
	return card("green", "✅ 招采中心采集完成", []map[string]any{
		markdown(fmt.Sprintf(
			"**执行时间**：%s\n**耗时**：%d秒\n\n**📊 统计数据**\n- 处理总数：%d\n- 新增数量：%d\n- 重复数量：%d",
			c.ExecutionTime, c.DurationSecs, c.TotalProcessed, c.TotalNew, c.TotalDuplicate,
		)),
	})
}

func errorCard(c domain.ErrorCard) map[string]any {
	return card("red", "⚠️ 采集任务出错", []map[string]any{
		markdown(fmt.Sprintf("**错误时间**：%s\n\n**错误信息**：%s", c.Timestamp, c.Message)),
	})
}

// digestCards splits a run digest into chunked cards of at most
// digestChunkSize items, each headed by its range within the run.
func digestCards(c domain.DigestCard, webuiURL, imageURL string) []map[string]any {
	total := len(c.Items)
	var cards []map[string]any

	for start := 0; start < total; start += digestChunkSize {
		end := start + digestChunkSize
		if end > total {
			end = total
		}

		header := fmt.Sprintf(
			"%s | %s | 新增%d/重复%d/处理%d | 第%d-%d/%d",
			c.ExecutionTime, c.KeywordLabel,
			c.TotalNew, c.TotalDuplicate, c.TotalProcessed,
			start+1, end, total,
		)

		elements := []map[string]any{
			markdown(fmt.Sprintf("**%s**\n回溯天数：%d", header, c.DaysLookback)),
			{"tag": "hr"},
		}
		if imageURL != "" {
			elements = append(elements, map[string]any{
				"tag":     "img",
				"img_key": imageURL,
				"alt":     map[string]any{"tag": "plain_text", "content": ""},
			})
		}

		for i, item := range c.Items[start:end] {
			elements = append(elements, markdown(fmt.Sprintf(
				"**%d. [%s](%s)**\n发布日期：%s\n%s",
				start+i+1, item.Title, item.URL, item.Date, item.Summary,
			)))
		}

		if webuiURL != "" {
			elements = append(elements,
				map[string]any{"tag": "hr"},
				markdown(fmt.Sprintf("[查看全部结果](%s)", webuiURL)),
			)
		}

		cards = append(cards, card("blue", "📋 招采信息日报", elements))
	}

	return cards
}
