package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage indexed documents",
	Long:  `List, view, or delete ingested documents.`,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentList,
}

var documentGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show document info",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentContentCmd = &cobra.Command{
	Use:   "content [doc-id]",
	Short: "Print document content",
	Long:  `Prints the extracted text of a document, reassembled from its chunks.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentContent,
}

var documentDeleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Delete a document",
	Long:  `Removes a document, its chunks and their index entries.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentDelete,
}

var (
	documentCategory string
	documentJSON     bool
)

func init() {
	documentListCmd.Flags().StringVarP(&documentCategory, "category", "c", "", "only list documents in this category")
	documentListCmd.Flags().BoolVar(&documentJSON, "json", false, "output documents as JSON")

	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentContentCmd)
	documentCmd.AddCommand(documentDeleteCmd)
	rootCmd.AddCommand(documentCmd)
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	var category *domain.Category
	if documentCategory != "" {
		c := domain.Category(strings.ToLower(documentCategory))
		category = &c
	}

	docs, err := documentService.List(cmd.Context(), category)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if documentJSON {
		if docs == nil {
			docs = []domain.Document{}
		}
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal documents: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	cmd.Println("Documents:")
	cmd.Println()
	for i := range docs {
		cmd.Printf("  %s\n", docs[i].ID)
		cmd.Printf("    Title:    %s\n", docs[i].Title)
		cmd.Printf("    Category: %s\n", docs[i].Category)
		cmd.Printf("    Status:   %s\n", docs[i].Status)
		cmd.Println()
	}

	cmd.Printf("Total: %d documents\n", len(docs))
	return nil
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	doc, err := documentService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  Title:    %s\n", doc.Title)
	if doc.Description != "" {
		cmd.Printf("  About:    %s\n", doc.Description)
	}
	cmd.Printf("  Category: %s\n", doc.Category)
	cmd.Printf("  Type:     %s\n", doc.FileType)
	if doc.FilePath != "" {
		cmd.Printf("  Path:     %s\n", doc.FilePath)
	}
	cmd.Printf("  Status:   %s\n", doc.Status)
	if doc.StatusReason != "" {
		cmd.Printf("  Reason:   %s\n", doc.StatusReason)
	}
	cmd.Printf("  Chunks:   %d\n", doc.ChunkCount)
	cmd.Printf("  Created:  %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Updated:  %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))

	return nil
}

func runDocumentContent(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	content, err := documentService.GetContent(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document content: %w", err)
	}

	cmd.Println(content)
	return nil
}

func runDocumentDelete(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	if err := documentService.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	cmd.Printf("Document %s deleted.\n", args[0])
	return nil
}
