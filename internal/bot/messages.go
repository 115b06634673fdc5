package bot

import "fmt"

// Callback data values carried by the inline buttons.
const (
	CallbackConfirm            = "confirm_text"
	CallbackEdit               = "edit_text"
	CallbackBackToConfirmation = "back_to_confirmation"
	CallbackCancel             = "cancel_text"
)

const resultFilename = "shopping_list.png"

const (
	msgHelp = "👋 Send me a photo of a shopping list, an image file or a PDF and I will turn it into a clean printable image.\n\n" +
		"You can review and edit the recognized text before the image is created.\n\n" +
		"Commands:\n" +
		"/back - upload a background image for your lists\n" +
		"/nobackground - remove your background image\n" +
		"/cancel - cancel the current operation\n" +
		"/help - show this message"
	msgUnknown = "🤔 I don't understand that.\n\n" +
		"📸 Send me a photo of a shopping list and I will turn it into a printable image!\n\n" +
		"Use /help for more information."

	msgFinishCurrent     = "⚠️ Finish the current operation (confirm or cancel) before sending a new file."
	msgUnsupportedFile   = "⚠️ This file type is not supported. Send a photo, a JPG, PNG or WEBP image, or a PDF."
	msgExtractingImage   = "🔍 Extracting text from the image..."
	msgExtractingPDF     = "🔍 Extracting text from the PDF..."
	msgNoTextImage       = "❌ Could not extract text from the image. Try a sharper image with readable text."
	msgNoTextPDF         = "❌ Could not extract text from the PDF. Try a PDF with readable text."
	msgGenericError      = "❌ Something went wrong while processing your request. Please try again later."
	msgRendering         = "🎨 Creating your image..."
	msgRenderFailed      = "❌ Could not create the image."
	msgImageCreated      = "✅ Image created!"
	msgNothingToConfirm  = "❌ Error: there is no text to confirm."
	msgNothingToEdit     = "❌ Error: there is no text to edit."
	msgCancelled         = "❌ Processing cancelled. Send a new image or PDF."
	msgCancelledShort    = "Processing cancelled"
	msgEmptyEdit         = "❌ The text cannot be empty. Please try again."
	msgAskBackground     = "🖼️ Send the image to use as the background for your shopping lists.\n\nIt will be resized to fit the text automatically."
	msgBackgroundSaved   = "✅ Background saved! It will be used for your next shopping lists."
	msgBackgroundRetry   = "⚠️ Please send an image. Use /back to start the background upload again."
	msgBackgroundRemoved = "✅ Background removed. Your lists will use a plain colour again."
	msgNoBackground      = "ℹ️ You have no background image set."

	headingExtracted = "📝 Extracted text:"
	headingEdited    = "📝 Edited text:"
	headingEditing   = "✏️ Editing text:"

	hintReview = "Check the text. You can:\n" +
		"• ✅ Confirm and create the image\n" +
		"• ✏️ Edit the text\n" +
		"• ❌ Cancel"
	hintEdit = "Send the corrected text, or use the buttons:"
)

func msgReceived(pdf bool) string {
	if pdf {
		return "📄 PDF received. Processing..."
	}
	return "📸 Image received. Processing..."
}

func msgTooLarge(limit int64) string {
	return fmt.Sprintf("❌ The file is too large. Maximum size: %.1f MB", float64(limit)/1024/1024)
}

func msgTooManyPages(pages, limit int) string {
	return fmt.Sprintf("❌ The PDF has %d pages. Maximum: %d.", pages, limit)
}

var confirmKeyboard = Keyboard{
	{
		{Text: "✅ Confirm", Data: CallbackConfirm},
		{Text: "✏️ Edit", Data: CallbackEdit},
	},
	{
		{Text: "❌ Cancel", Data: CallbackCancel},
	},
}

var editKeyboard = Keyboard{
	{
		{Text: "↩️ Back", Data: CallbackBackToConfirmation},
		{Text: "❌ Cancel", Data: CallbackCancel},
	},
}
