package notify

import (
	"fmt"
	"strings"
)

const signature = `

Thanks,
CartStream Support
`

// OrderConfirmation builds the order confirmation email. Shop owners get
// a preparation notice, customers a thank-you.
func OrderConfirmation(to string, orderID int64, summary, total string, forShopOwner bool) Email {
	greeting := fmt.Sprintf("Thank you for your order #%d. We are processing your purchase and will notify you when it ships.", orderID)
	if forShopOwner {
		greeting = fmt.Sprintf("You have received a new order #%d. Please prepare the following items for shipment.", orderID)
	}
	body := fmt.Sprintf("Hi,\n\n%s\n\nOrder Details:\n%s\n\nTotal: %s\n\nIf you have any questions, please contact our support.", greeting, summary, total)
	return Email{
		To:      to,
		Subject: fmt.Sprintf("Order Confirmation - Order #%d", orderID),
		Body:    body + signature,
	}
}

// StatusUpdate builds the status change email. The tracking number is only
// mentioned for shipped orders.
func StatusUpdate(to string, orderID int64, status, tracking string) Email {
	var subject, text, extra string
	switch strings.ToLower(status) {
	case "processing":
		subject = fmt.Sprintf("Your Order #%d is Processing", orderID)
		text = fmt.Sprintf("Your order #%d is currently being processed. We will update you when it ships.", orderID)
	case "shipped":
		subject = fmt.Sprintf("Your Order #%d has Shipped", orderID)
		text = fmt.Sprintf("Good news! Your order #%d has been shipped.", orderID)
		if tracking != "" {
			extra = "You can track your package with the following tracking number: " + tracking
		}
	case "delivered":
		subject = fmt.Sprintf("Your Order #%d has been Delivered", orderID)
		text = fmt.Sprintf("We're happy to inform you that your order #%d has been delivered.", orderID)
	case "cancelled":
		subject = fmt.Sprintf("Your Order #%d has been Canceled", orderID)
		text = fmt.Sprintf("Your order #%d has been cancelled. If this was a mistake, please contact support.", orderID)
	default:
		subject = fmt.Sprintf("Update on Your Order #%d", orderID)
		text = fmt.Sprintf("The status of your order #%d has been updated to '%s'.", orderID, status)
	}
	body := "Hi,\n\n" + text + "\n\n"
	if extra != "" {
		body += extra + "\n\n"
	}
	body += "Thank you for shopping with us!"
	return Email{To: to, Subject: subject, Body: body + signature}
}

// LowStock builds the low stock alert email.
func LowStock(to, title string, stock int) Email {
	body := fmt.Sprintf("Hi,\n\nThis is a low stock alert for your product:\n\nItem: %s\nCurrent Stock: %d\n\nPlease restock soon to avoid losing potential sales.", title, stock)
	return Email{
		To:      to,
		Subject: "Low Stock Alert: " + title,
		Body:    body + signature,
	}
}

// LowStockText is the in-app low stock message.
func LowStockText(title string, stock int) string {
	return fmt.Sprintf("Low stock alert for '%s': only %d left.", title, stock)
}

// StatusText is the in-app status change message.
func StatusText(orderID int64, status, tracking string) string {
	msg := fmt.Sprintf("Your order #%d is now %s.", orderID, status)
	if status == "shipped" && tracking != "" {
		msg += " Tracking number: " + tracking
	}
	return msg
}
